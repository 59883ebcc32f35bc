// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

// NewRetireQueue creates a retire queue with one bucket per frame slot.
func NewRetireQueue(slots int) *RetireQueue {
	if slots < 1 {
		slots = 1
	}
	return &RetireQueue{
		buckets: make([][]Releasable, slots),
	}
}

// RetireQueue defers destruction of resources until the frame slot
// that retired them comes around again. A slot only comes around after
// its completion fence was observed signaled, so by then no in-flight
// command buffer can still reference the retired resources.
type RetireQueue struct {
	current int
	buckets [][]Releasable
}

// Slots returns the number of frame slots the queue rotates through.
func (q *RetireQueue) Slots() int {
	return len(q.buckets)
}

// Begin must be called once the fence guarding slot has been observed
// signaled. It releases everything retired during the previous use of
// the slot and makes slot the target of subsequent Retire calls.
// Returns the number of released resources.
func (q *RetireQueue) Begin(slot int) int {
	slot = slot % len(q.buckets)
	released := release(q.buckets[slot])
	q.buckets[slot] = q.buckets[slot][:0]
	q.current = slot
	return released
}

// Retire schedules r for release when the current slot comes around again.
func (q *RetireQueue) Retire(r Releasable) {
	if r == nil {
		return
	}
	q.buckets[q.current] = append(q.buckets[q.current], r)
}

// Pending returns the number of resources waiting for release.
func (q *RetireQueue) Pending() int {
	var n int
	for _, b := range q.buckets {
		n += len(b)
	}
	return n
}

// Drain releases everything immediately. Only call it when the device
// is known to be idle.
func (q *RetireQueue) Drain() int {
	var n int
	for idx := range q.buckets {
		n += release(q.buckets[idx])
		q.buckets[idx] = q.buckets[idx][:0]
	}
	return n
}

// Resize drains the queue and changes the number of slots.
// Like Drain, it requires an idle device.
func (q *RetireQueue) Resize(slots int) {
	q.Drain()
	if slots < 1 {
		slots = 1
	}
	q.buckets = make([][]Releasable, slots)
	q.current = 0
}

func release(bucket []Releasable) int {
	for _, r := range bucket {
		r.Release()
	}
	return len(bucket)
}
