// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/devblok/vkframe/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fenceState models the completion fence of a frame slot on a device
// that finishes every submission instantly.
type fenceState struct {
	signaled bool
	inFlight bool
	waited   bool
}

// fakePresenter records every call of the frame loop and flags the ones
// that would hang or race on a real device.
type fakePresenter struct {
	support   SurfaceSupport
	preferred uint32
	extent    gfx.Extent2D
	fences    []fenceState
	commands  []vk.CommandBuffer
	recording []bool
	next      uint32

	staleAcquires      int
	suboptimalAcquires int
	stalePresents      int
	failBegins         int
	failSubmits        int

	acquires, presents int
	rebuilds, discards int
	waitIdle, waitAll  int
	acquired           []uint32
	submitted          [][]uintptr
	submittedImages    []uint32
	violations         []string
}

var lastFakeHandle uintptr = 0x10000

// fakeCommandBuffer returns a distinct handle that is never dereferenced
// and lies outside of the Go heap.
func fakeCommandBuffer() vk.CommandBuffer {
	lastFakeHandle += 0x10
	return vk.CommandBuffer(unsafe.Pointer(lastFakeHandle))
}

func handles(buffers ...vk.CommandBuffer) []uintptr {
	out := make([]uintptr, 0, len(buffers))
	for _, b := range buffers {
		out = append(out, uintptr(unsafe.Pointer(b)))
	}
	return out
}

func newFakePresenter(extent gfx.Extent2D) *fakePresenter {
	p := &fakePresenter{
		support: SurfaceSupport{
			Capabilities: vk.SurfaceCapabilities{
				CurrentExtent:  vk.Extent2D{Width: undefinedExtent, Height: undefinedExtent},
				MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
				MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
				MinImageCount:  2,
				MaxImageCount:  3,
			},
			Formats: []vk.SurfaceFormat{
				{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
			},
			PresentModes: []vk.PresentMode{vk.PresentModeFifo},
		},
	}
	p.extent = ChooseExtent(p.support.Capabilities, extent)
	p.resetSlots(int(ChooseImageCount(p.support.Capabilities, p.preferred)))
	return p
}

func (p *fakePresenter) resetSlots(n int) {
	p.fences = make([]fenceState, n)
	p.commands = make([]vk.CommandBuffer, n)
	p.recording = make([]bool, n)
	for idx := range p.fences {
		p.fences[idx] = fenceState{signaled: true, waited: true}
		p.commands[idx] = fakeCommandBuffer()
	}
}

func (p *fakePresenter) violate(format string, args ...interface{}) {
	p.violations = append(p.violations, fmt.Sprintf(format, args...))
}

func (p *fakePresenter) Slots() int { return len(p.fences) }

func (p *fakePresenter) WaitSlot(slot int) error {
	f := &p.fences[slot]
	if f.inFlight {
		f.inFlight = false
		f.signaled = true
	}
	if !f.signaled {
		p.violate("slot %d: wait on a fence nothing will signal", slot)
	}
	f.waited = true
	return nil
}

func (p *fakePresenter) ResetSlot(slot int) error {
	f := &p.fences[slot]
	if !f.waited {
		p.violate("slot %d: reset before the fence was observed", slot)
	}
	f.signaled = false
	return nil
}

func (p *fakePresenter) Acquire(slot int) (uint32, bool, error) {
	p.acquires++
	if p.staleAcquires > 0 {
		p.staleAcquires--
		return 0, false, ErrSurfaceStale
	}
	image := p.next % uint32(len(p.fences))
	p.next++
	p.acquired = append(p.acquired, image)
	if p.suboptimalAcquires > 0 {
		p.suboptimalAcquires--
		return image, true, nil
	}
	return image, false, nil
}

func (p *fakePresenter) BeginCommands(slot int) (vk.CommandBuffer, error) {
	if !p.fences[slot].waited {
		p.violate("slot %d: recording while in flight", slot)
	}
	if p.recording[slot] {
		p.violate("slot %d: begin while still recording", slot)
	}
	if p.failBegins > 0 {
		p.failBegins--
		return nil, errors.New("out of host memory")
	}
	p.recording[slot] = true
	return p.commands[slot], nil
}

func (p *fakePresenter) EndCommands(slot int) error {
	if !p.recording[slot] {
		p.violate("slot %d: end without begin", slot)
	}
	p.recording[slot] = false
	return nil
}

func (p *fakePresenter) Submit(slot int, image uint32, buffers []vk.CommandBuffer) error {
	f := &p.fences[slot]
	if f.signaled {
		p.violate("slot %d: submit with a signaled fence", slot)
	}
	if p.recording[slot] {
		p.violate("slot %d: submit while recording", slot)
	}
	if p.failSubmits > 0 {
		p.failSubmits--
		return errors.New("device lost")
	}
	f.inFlight = true
	f.waited = false
	p.submitted = append(p.submitted, handles(buffers...))
	p.submittedImages = append(p.submittedImages, image)
	return nil
}

func (p *fakePresenter) Discard(slot int) error {
	p.discards++
	p.recording[slot] = false
	f := &p.fences[slot]
	if f.inFlight {
		p.violate("slot %d: discard after submission", slot)
	}
	// an empty batch waits for the acquisition and signals the fence
	f.signaled = false
	f.inFlight = true
	f.waited = false
	return nil
}

func (p *fakePresenter) Present(slot int, image uint32) (bool, error) {
	if !p.fences[slot].inFlight {
		p.violate("slot %d: present without submission", slot)
	}
	if p.stalePresents > 0 {
		p.stalePresents--
		return false, ErrSurfaceStale
	}
	p.presents++
	return false, nil
}

func (p *fakePresenter) Rebuild(extent gfx.Extent2D) error {
	for idx, f := range p.fences {
		if f.inFlight {
			p.violate("slot %d: rebuild while in flight", idx)
		}
	}
	if _, err := ChooseSurfaceFormat(p.support.Formats); err != nil {
		return err
	}
	chosen := ChooseExtent(p.support.Capabilities, extent)
	if chosen.Empty() {
		return ErrSurfaceStale
	}
	p.rebuilds++
	p.extent = chosen
	if n := int(ChooseImageCount(p.support.Capabilities, p.preferred)); n != len(p.fences) {
		p.resetSlots(n)
	}
	p.next = 0
	return nil
}

func (p *fakePresenter) WaitIdle() error {
	p.waitIdle++
	for idx := range p.fences {
		if p.fences[idx].inFlight {
			p.fences[idx].inFlight = false
			p.fences[idx].signaled = true
		}
	}
	return nil
}

func (p *fakePresenter) WaitAll() error {
	p.waitAll++
	for idx := range p.fences {
		if err := p.WaitSlot(idx); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakePresenter) Extent() gfx.Extent2D { return p.extent }

func (p *fakePresenter) RenderPass() Handle[RenderPass] { return Handle[RenderPass]{} }

type fakeApp struct {
	events  []string
	slots   []int
	resizes []gfx.Extent2D
	record  func(ctx *FrameContext) error
}

func (a *fakeApp) Prepare(ctx SetupContext) error {
	a.events = append(a.events, fmt.Sprintf("prepare %d", ctx.Slots))
	return nil
}

func (a *fakeApp) RecordFrame(ctx *FrameContext) error {
	a.events = append(a.events, "record")
	a.slots = append(a.slots, ctx.Slot)
	if a.record != nil {
		return a.record(ctx)
	}
	return nil
}

func (a *fakeApp) OnResize(extent gfx.Extent2D) error {
	a.events = append(a.events, "resize")
	a.resizes = append(a.resizes, extent)
	return nil
}

func (a *fakeApp) OnViewChanged() {
	a.events = append(a.events, "view")
}

func runFrames(t *testing.T, loop *FrameLoop, n int) int {
	var presented int
	for i := 0; i < n; i++ {
		ok, err := loop.Frame()
		require.NoError(t, err)
		if ok {
			presented++
		}
	}
	return presented
}

var testExtent = gfx.Extent2D{Width: 800, Height: 600}

func TestFrameLoopFenceDiscipline(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	app := &fakeApp{}
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})

	assert.Equal(t, 10, runFrames(t, loop, 10))
	assert.Empty(t, presenter.violations)
	assert.Equal(t, uint64(10), loop.Frames())
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0}, app.slots)
	assert.Equal(t, 10, presenter.presents)
	assert.Zero(t, presenter.rebuilds)

	require.NoError(t, loop.Stop())
	assert.Empty(t, presenter.violations)
}

func TestFrameLoopStaleAcquireKeepsFenceSignaled(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	app := &fakeApp{}
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})
	runFrames(t, loop, 2)

	presenter.staleAcquires = 1
	ok, err := loop.Frame()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, presenter.presents)

	// the slot skipped by the failed acquire is waited on again
	assert.Equal(t, 3, runFrames(t, loop, 3))
	assert.Equal(t, 1, presenter.rebuilds)
	assert.Len(t, app.resizes, 1)
	assert.Empty(t, presenter.violations)
}

func TestFrameLoopSuboptimalAcquire(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	loop := NewFrameLoop(presenter, &fakeApp{}, FrameLoopOptions{})

	presenter.suboptimalAcquires = 1
	ok, err := loop.Frame()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, presenter.rebuilds)

	ok, err = loop.Frame()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, presenter.rebuilds)
	assert.Empty(t, presenter.violations)
}

func TestFrameLoopStalePresent(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	loop := NewFrameLoop(presenter, &fakeApp{}, FrameLoopOptions{})

	presenter.stalePresents = 1
	ok, err := loop.Frame()
	require.NoError(t, err)
	assert.True(t, ok, "the frame was submitted")
	assert.Equal(t, uint64(1), loop.Frames())

	runFrames(t, loop, 4)
	assert.Equal(t, 1, presenter.rebuilds)
	assert.Equal(t, 4, presenter.presents)
	assert.Empty(t, presenter.violations)
}

func TestFrameLoopMinimized(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	loop := NewFrameLoop(presenter, &fakeApp{}, FrameLoopOptions{})
	runFrames(t, loop, 1)

	loop.Resize(0, 0)
	assert.True(t, loop.Minimized())
	assert.Zero(t, runFrames(t, loop, 5))
	assert.Equal(t, 1, presenter.acquires)

	loop.Resize(testExtent.Width, testExtent.Height)
	assert.False(t, loop.Minimized())
	assert.Equal(t, 2, runFrames(t, loop, 2))
	assert.Zero(t, presenter.rebuilds)
	assert.Empty(t, presenter.violations)
}

func TestFrameLoopZeroSurfaceExtent(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	loop := NewFrameLoop(presenter, &fakeApp{}, FrameLoopOptions{})
	runFrames(t, loop, 1)

	// the surface dictates a zero extent, as minimized windows do
	presenter.support.Capabilities.CurrentExtent = vk.Extent2D{}
	loop.Resize(640, 480)
	ok, err := loop.Frame()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, loop.Minimized())

	presenter.support.Capabilities.CurrentExtent = vk.Extent2D{Width: 640, Height: 480}
	loop.Resize(640, 480)
	assert.Equal(t, 1, runFrames(t, loop, 1))
	assert.Equal(t, gfx.Extent2D{Width: 640, Height: 480}, presenter.Extent())
	assert.Empty(t, presenter.violations)
}

func TestFrameLoopResizeIdempotent(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	app := &fakeApp{}
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})
	runFrames(t, loop, 2)

	for i := 0; i < 3; i++ {
		loop.Resize(testExtent.Width, testExtent.Height)
		runFrames(t, loop, 1)
	}
	assert.Zero(t, presenter.rebuilds)

	resized := gfx.Extent2D{Width: 1024, Height: 768}
	loop.Resize(resized.Width, resized.Height)
	loop.Resize(resized.Width, resized.Height)
	runFrames(t, loop, 1)
	loop.Resize(resized.Width, resized.Height)
	runFrames(t, loop, 2)

	assert.Equal(t, 1, presenter.rebuilds)
	assert.Equal(t, []gfx.Extent2D{resized}, app.resizes)
	assert.Equal(t, resized, presenter.Extent())

	// clamped to the surface maximum, then stable
	loop.Resize(9000, 10)
	runFrames(t, loop, 1)
	loop.Resize(4096, 10)
	runFrames(t, loop, 1)
	assert.Equal(t, 2, presenter.rebuilds)
	assert.Equal(t, gfx.Extent2D{Width: 4096, Height: 10}, presenter.Extent())
	assert.Empty(t, presenter.violations)
}

func TestFrameLoopResizeWait(t *testing.T) {
	for _, wait := range []ResizeWait{ResizeWaitDevice, ResizeWaitFrames} {
		presenter := newFakePresenter(testExtent)
		loop := NewFrameLoop(presenter, &fakeApp{}, FrameLoopOptions{ResizeWait: wait})
		runFrames(t, loop, 4)

		loop.Resize(1024, 768)
		runFrames(t, loop, 1)

		require.Equal(t, 1, presenter.rebuilds, wait.String())
		if wait == ResizeWaitFrames {
			assert.Equal(t, 1, presenter.waitAll)
			assert.Zero(t, presenter.waitIdle)
		} else {
			assert.Equal(t, 1, presenter.waitIdle)
			assert.Zero(t, presenter.waitAll)
		}
		assert.Empty(t, presenter.violations, wait.String())
	}
}

func TestFrameLoopSlotCountChange(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	presenter.preferred = 2
	presenter.resetSlots(2)
	app := &fakeApp{}
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})
	runFrames(t, loop, 3)
	assert.Equal(t, 1, loop.Slot())

	presenter.preferred = 3
	loop.Resize(1024, 768)
	runFrames(t, loop, 4)

	assert.Equal(t, 3, presenter.Slots())
	assert.Equal(t, 3, loop.retire.Slots())
	assert.Equal(t, []int{0, 1, 0, 0, 1, 2, 0}, app.slots)
	assert.Empty(t, presenter.violations)
}

func TestFrameLoopViewChangedOrder(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	app := &fakeApp{}
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})
	runFrames(t, loop, 2)

	loop.ViewChanged()
	runFrames(t, loop, 1)
	loop.Resize(1024, 768)
	runFrames(t, loop, 1)

	assert.Equal(t, []string{
		"prepare 3", "view", "record",
		"record",
		"view", "record",
		"resize", "view", "record",
	}, app.events)
}

func TestFrameLoopRetire(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	var released []uint64
	app := &fakeApp{}
	app.record = func(ctx *FrameContext) error {
		frame := ctx.Frame
		ctx.Retire(gfx.ReleaseFunc(func() { released = append(released, frame) }))
		return nil
	}
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})

	runFrames(t, loop, 3)
	assert.Empty(t, released)

	// slot 0 comes around and its fence was waited on
	runFrames(t, loop, 1)
	assert.Equal(t, []uint64{0}, released)

	require.NoError(t, loop.Stop())
	assert.ElementsMatch(t, []uint64{0, 1, 2, 3}, released)
}

func TestFrameLoopSubmitOrder(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	shadow, post := fakeCommandBuffer(), fakeCommandBuffer()
	app := &fakeApp{}
	app.record = func(ctx *FrameContext) error {
		ctx.Submit(shadow, post)
		return nil
	}
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})
	runFrames(t, loop, 2)

	require.Len(t, presenter.submitted, 2)
	assert.Equal(t, handles(shadow, post, presenter.commands[0]), presenter.submitted[0])
	assert.Equal(t, handles(shadow, post, presenter.commands[1]), presenter.submitted[1])
}

func TestFrameLoopSubmitsForAcquiredImage(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	loop := NewFrameLoop(presenter, &fakeApp{}, FrameLoopOptions{})
	presenter.next = 1

	runFrames(t, loop, 5)
	assert.Equal(t, []uint32{1, 2, 0, 1, 2}, presenter.acquired)
	assert.Equal(t, presenter.acquired, presenter.submittedImages)
}

func assertFencesSettle(t *testing.T, presenter *fakePresenter) {
	require.NoError(t, presenter.WaitIdle())
	for idx, f := range presenter.fences {
		assert.True(t, f.signaled, "slot %d", idx)
		assert.False(t, presenter.recording[idx], "slot %d", idx)
	}
}

func TestFrameLoopRecordError(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	app := &fakeApp{}
	failures := 1
	app.record = func(*FrameContext) error {
		if failures > 0 {
			failures--
			return errors.New("out of vertices")
		}
		return nil
	}
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})

	ok, err := loop.Frame()
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of vertices")
	assert.Zero(t, presenter.presents)
	assert.Equal(t, 1, presenter.discards)

	// every slot comes around again, including the failed one
	assert.Equal(t, 6, runFrames(t, loop, 6))
	assert.Equal(t, 6, presenter.presents)
	assert.Equal(t, 1, presenter.rebuilds, "the unpresented image is reclaimed")
	assert.Empty(t, presenter.violations)
	assertFencesSettle(t, presenter)
}

func TestFrameLoopRecordErrorEveryFrame(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	app := &fakeApp{}
	app.record = func(*FrameContext) error { return errors.New("broken scene") }
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})

	for i := 0; i < 7; i++ {
		_, err := loop.Frame()
		require.Error(t, err)
	}
	assert.Equal(t, 7, presenter.discards)
	assert.Empty(t, presenter.violations)
	assertFencesSettle(t, presenter)
}

func TestFrameLoopSubmitError(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	loop := NewFrameLoop(presenter, &fakeApp{}, FrameLoopOptions{})
	runFrames(t, loop, 2)

	presenter.failSubmits = 1
	_, err := loop.Frame()
	require.Error(t, err)
	assert.Equal(t, 1, presenter.discards)

	assert.Equal(t, 4, runFrames(t, loop, 4))
	assert.Empty(t, presenter.violations)
	assertFencesSettle(t, presenter)
}

func TestFrameLoopBeginCommandsError(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	app := &fakeApp{}
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})

	presenter.failBegins = 1
	_, err := loop.Frame()
	require.Error(t, err)
	assert.Empty(t, app.slots, "nothing was recorded")

	assert.Equal(t, 4, runFrames(t, loop, 4))
	assert.Empty(t, presenter.violations)
	assertFencesSettle(t, presenter)
}

func TestFrameContextWithoutFactory(t *testing.T) {
	presenter := newFakePresenter(testExtent)
	app := &fakeApp{}
	app.record = func(ctx *FrameContext) error {
		return ctx.BeginPass(vk.SubpassContentsInline)
	}
	loop := NewFrameLoop(presenter, app, FrameLoopOptions{})

	_, err := loop.Frame()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a factory")

	app.record = func(ctx *FrameContext) error { return ctx.EndPass() }
	_, err = loop.Frame()
	assert.Error(t, err)
	assert.Empty(t, presenter.violations)
}

func TestParseResizeWait(t *testing.T) {
	for in, want := range map[string]ResizeWait{"": ResizeWaitDevice, "device": ResizeWaitDevice, "frames": ResizeWaitFrames} {
		got, err := ParseResizeWait(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseResizeWait("never")
	assert.Error(t, err)
}
