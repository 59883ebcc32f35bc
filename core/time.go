// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync/atomic"
	"time"
)

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	var interval time.Duration
	if cfg.FramesPerSecond <= 0 {
		interval = time.Nanosecond
	} else {
		interval = time.Second / time.Duration(cfg.FramesPerSecond)
	}

	pollDelay := time.Duration(cfg.EventPollDelay) * time.Millisecond
	if pollDelay <= 0 {
		pollDelay = time.Millisecond
	}

	return &Time{
		fps:         cfg.FramesPerSecond,
		fpsTicker:   time.NewTicker(interval),
		eventTicker: time.NewTicker(pollDelay),
		last:        time.Now(),
	}
}

// Time contains the frame pacing tickers and frame statistics.
// Frame and FrameTime are safe to call from a different
// goroutine than the one calling Tick.
type Time struct {
	fps       int
	fpsTicker *time.Ticker

	eventTicker *time.Ticker

	frames    uint64
	last      time.Time
	frameTime int64 // nanoseconds, smoothed
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FpsTicker gets the initialized fps ticker
func (t *Time) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// EventTicker gets the initialized event ticker for the event loop
func (t *Time) EventTicker() *time.Ticker {
	return t.eventTicker
}

// Tick records the end of a frame.
func (t *Time) Tick(now time.Time) {
	elapsed := now.Sub(t.last)
	t.last = now
	atomic.AddUint64(&t.frames, 1)

	prev := atomic.LoadInt64(&t.frameTime)
	if prev == 0 {
		atomic.StoreInt64(&t.frameTime, int64(elapsed))
		return
	}
	// exponential moving average, 1/8 weight on the new sample
	atomic.StoreInt64(&t.frameTime, prev+(int64(elapsed)-prev)/8)
}

// Frames returns the number of frames ticked so far.
func (t *Time) Frames() uint64 {
	return atomic.LoadUint64(&t.frames)
}

// FrameTime returns the smoothed duration of a frame.
func (t *Time) FrameTime() time.Duration {
	return time.Duration(atomic.LoadInt64(&t.frameTime))
}

// Stop stops the tickers.
func (t *Time) Stop() {
	t.fpsTicker.Stop()
	t.eventTicker.Stop()
}
