// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/vkframe/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Application is driven by a FrameLoop.
type Application interface {

	// Prepare creates the resources the application renders with.
	// It is called once before the first frame.
	Prepare(ctx SetupContext) error

	// RecordFrame records the commands of one frame into ctx.Commands,
	// between acquiring the image and submitting.
	RecordFrame(ctx *FrameContext) error

	// OnResize is called after the swapchain was rebuilt at a new extent.
	OnResize(extent gfx.Extent2D) error

	// OnViewChanged is called after a resize and whenever the view
	// was reported changed, before the next frame is recorded.
	OnViewChanged()
}

// SetupContext is what an Application prepares against.
type SetupContext struct {
	Factory *Factory
	Pass    Handle[RenderPass]
	Extent  gfx.Extent2D
	Slots   int
}

// FrameContext is the state of the frame being recorded.
type FrameContext struct {
	// Slot is the frame slot in use, Image the acquired swapchain image
	// and the index of the framebuffer to render into.
	Slot  int
	Image uint32
	Frame uint64

	// Commands is the primary command buffer of the slot, already begun.
	Commands vk.CommandBuffer

	Extent  gfx.Extent2D
	Pass    Handle[RenderPass]
	Factory *Factory

	extra  []vk.CommandBuffer
	retire *gfx.RetireQueue
}

// Submit adds command buffers recorded for other passes of this frame.
// They are submitted in order, before Commands.
func (c *FrameContext) Submit(buffers ...vk.CommandBuffer) {
	c.extra = append(c.extra, buffers...)
}

// Retire releases r once this frame slot comes around again.
func (c *FrameContext) Retire(r gfx.Releasable) {
	c.retire.Retire(r)
}

func (c *FrameContext) renderPass() (*RenderPass, error) {
	if c.Factory == nil {
		return nil, errors.New("frame loop was created without a factory")
	}
	return c.Factory.RenderPass(c.Pass)
}

// BeginPass begins the main render pass on the framebuffer of the
// acquired image.
func (c *FrameContext) BeginPass(contents vk.SubpassContents) error {
	pass, err := c.renderPass()
	if err != nil {
		return err
	}
	return pass.Begin(c.Commands, int(c.Image), contents)
}

// EndPass ends the main render pass.
func (c *FrameContext) EndPass() error {
	pass, err := c.renderPass()
	if err != nil {
		return err
	}
	pass.End(c.Commands)
	return nil
}

func (c *FrameContext) buffers() []vk.CommandBuffer {
	return append(append([]vk.CommandBuffer(nil), c.extra...), c.Commands)
}

// Presenter owns the frame slots and the surface the frame loop
// presents to.
type Presenter interface {

	// Slots returns the number of frame slots.
	Slots() int

	// WaitSlot blocks until the last submission of slot completed.
	WaitSlot(slot int) error

	// ResetSlot unsignals the fence of slot right ahead of its submission.
	ResetSlot(slot int) error

	// Acquire acquires the next image for slot. Reports whether the
	// surface is suboptimal; a stale surface fails with ErrSurfaceStale.
	Acquire(slot int) (uint32, bool, error)

	// BeginCommands begins the primary command buffer of slot.
	BeginCommands(slot int) (vk.CommandBuffer, error)

	// EndCommands ends the primary command buffer of slot.
	EndCommands(slot int) error

	// Submit submits buffers waiting for the image of slot to be
	// acquired, signaling the slot fence and the render semaphore of
	// image once done.
	Submit(slot int, image uint32, buffers []vk.CommandBuffer) error

	// Present presents image once the submission of slot is done.
	Present(slot int, image uint32) (bool, error)

	// Discard gives up the frame of slot after its image was acquired
	// but before it was submitted. It ends the slot's command buffer if
	// it is still recording and signals the slot fence once the image
	// acquisition completed, without presenting.
	Discard(slot int) error

	// Rebuild recreates everything that depends on the surface extent.
	Rebuild(extent gfx.Extent2D) error

	// WaitIdle blocks until the device is idle.
	WaitIdle() error

	// WaitAll blocks until every slot's last submission completed.
	WaitAll() error

	Extent() gfx.Extent2D
	RenderPass() Handle[RenderPass]
}

// ResizeWait selects what a resize waits for before rebuilding.
type ResizeWait int

const (
	// ResizeWaitDevice waits for the whole device to go idle.
	ResizeWaitDevice ResizeWait = iota

	// ResizeWaitFrames waits only for the frame slots' fences, which
	// covers everything the frame loop submitted.
	ResizeWaitFrames
)

// ParseResizeWait parses "device" or "frames". Empty means device.
func ParseResizeWait(s string) (ResizeWait, error) {
	switch s {
	case "", "device":
		return ResizeWaitDevice, nil
	case "frames":
		return ResizeWaitFrames, nil
	}
	return ResizeWaitDevice, errors.Errorf("unknown resize wait %q", s)
}

func (w ResizeWait) String() string {
	if w == ResizeWaitFrames {
		return "frames"
	}
	return "device"
}

// FrameLoopOptions configures a FrameLoop.
type FrameLoopOptions struct {
	// Factory is handed to the application and defines the retire
	// queue. Without one the loop keeps a retire queue of its own.
	Factory *Factory

	ResizeWait ResizeWait
}

// FrameLoop drives an Application frame by frame through a Presenter.
// It is not safe for concurrent use.
type FrameLoop struct {
	presenter Presenter
	app       Application
	factory   *Factory
	retire    *gfx.RetireQueue
	wait      ResizeWait

	slot  int
	frame uint64

	prepared    bool
	minimized   bool
	stale       bool
	viewChanged bool
	pending     *gfx.Extent2D
}

// NewFrameLoop creates a loop presenting app through presenter.
func NewFrameLoop(presenter Presenter, app Application, opts FrameLoopOptions) *FrameLoop {
	var retire *gfx.RetireQueue
	if opts.Factory != nil {
		retire = opts.Factory.RetireQueue()
		retire.Resize(presenter.Slots())
	} else {
		retire = gfx.NewRetireQueue(presenter.Slots())
	}
	return &FrameLoop{
		presenter: presenter,
		app:       app,
		factory:   opts.Factory,
		retire:    retire,
		wait:      opts.ResizeWait,
	}
}

// Slot returns the frame slot the next frame uses.
func (l *FrameLoop) Slot() int {
	return l.slot
}

// Frames returns the number of submitted frames.
func (l *FrameLoop) Frames() uint64 {
	return l.frame
}

// Minimized reports whether frames are being skipped.
func (l *FrameLoop) Minimized() bool {
	return l.minimized
}

// Resize notes the surface was resized. The rebuild happens at the
// start of the next frame. A zero extent means minimized.
func (l *FrameLoop) Resize(width, height uint32) {
	extent := gfx.Extent2D{Width: width, Height: height}
	if extent.Empty() {
		l.minimized = true
		return
	}
	l.minimized = false
	l.pending = &extent
}

// SetMinimized suspends or resumes frame submission.
func (l *FrameLoop) SetMinimized(minimized bool) {
	l.minimized = minimized
}

// ViewChanged has OnViewChanged called before the next frame.
func (l *FrameLoop) ViewChanged() {
	l.viewChanged = true
}

// Prepare prepares the application. Frame calls it when needed.
func (l *FrameLoop) Prepare() error {
	if l.prepared {
		return nil
	}
	if err := l.app.Prepare(SetupContext{
		Factory: l.factory,
		Pass:    l.presenter.RenderPass(),
		Extent:  l.presenter.Extent(),
		Slots:   l.presenter.Slots(),
	}); err != nil {
		return errors.Wrap(err, "prepare")
	}
	l.prepared = true
	l.viewChanged = true
	return nil
}

// Frame renders and presents one frame. It reports false when no frame
// was presented, because the surface is minimized or had to be rebuilt.
// Errors returned are not recoverable by the loop.
func (l *FrameLoop) Frame() (bool, error) {
	if err := l.Prepare(); err != nil {
		return false, err
	}
	ctx, err := l.BeginFrame()
	if err != nil || ctx == nil {
		return false, err
	}
	if err := l.app.RecordFrame(ctx); err != nil {
		return false, l.discard(ctx.Slot, errors.Wrap(err, "record frame"))
	}
	if err := l.SubmitFrame(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// BeginFrame waits for the current slot, acquires an image and begins
// the slot's command buffer. A nil context without an error means the
// frame is skipped.
func (l *FrameLoop) BeginFrame() (*FrameContext, error) {
	if l.minimized {
		return nil, nil
	}
	if l.pending != nil || l.stale {
		if err := l.rebuild(); err != nil {
			return nil, err
		}
		if l.minimized {
			return nil, nil
		}
	}
	if l.viewChanged {
		l.viewChanged = false
		l.app.OnViewChanged()
	}

	slot := l.slot
	if err := l.presenter.WaitSlot(slot); err != nil {
		return nil, err
	}
	if n := l.retire.Begin(slot); n > 0 {
		log.WithFields(log.Fields{
			"slot":     slot,
			"released": n,
		}).Debug("retired resources released")
	}

	image, suboptimal, err := l.presenter.Acquire(slot)
	if errors.Is(err, ErrSurfaceStale) {
		// the fence stays signaled, so the next wait on the slot returns
		l.stale = true
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if suboptimal {
		l.stale = true
	}

	cmd, err := l.presenter.BeginCommands(slot)
	if err != nil {
		return nil, l.discard(slot, err)
	}

	return &FrameContext{
		Slot:     slot,
		Image:    image,
		Frame:    l.frame,
		Commands: cmd,
		Extent:   l.presenter.Extent(),
		Pass:     l.presenter.RenderPass(),
		Factory:  l.factory,
		retire:   l.retire,
	}, nil
}

// SubmitFrame ends recording, submits and presents the frame begun by
// BeginFrame, then moves on to the next slot.
func (l *FrameLoop) SubmitFrame(ctx *FrameContext) error {
	if err := l.presenter.EndCommands(ctx.Slot); err != nil {
		return l.discard(ctx.Slot, err)
	}
	// the fence is only unsignaled when a submission follows
	if err := l.presenter.ResetSlot(ctx.Slot); err != nil {
		return l.discard(ctx.Slot, err)
	}
	if err := l.presenter.Submit(ctx.Slot, ctx.Image, ctx.buffers()); err != nil {
		return l.discard(ctx.Slot, err)
	}

	suboptimal, err := l.presenter.Present(ctx.Slot, ctx.Image)
	switch {
	case errors.Is(err, ErrSurfaceStale):
		l.stale = true
	case err != nil:
		return err
	case suboptimal:
		l.stale = true
	}

	l.frame++
	l.slot = (l.slot + 1) % l.presenter.Slots()
	return nil
}

// discard abandons the frame of slot after a failure between acquiring
// and submitting, so the slot fence gets signaled and the next pass
// through the slot does not block. The unpresented image is reclaimed
// by rebuilding the swapchain before the next frame. Returns cause.
func (l *FrameLoop) discard(slot int, cause error) error {
	if err := l.presenter.Discard(slot); err != nil {
		log.WithError(err).WithField("slot", slot).Warn("discarding frame")
	}
	l.stale = true
	l.slot = (slot + 1) % l.presenter.Slots()
	return cause
}

func (l *FrameLoop) rebuild() error {
	extent := l.presenter.Extent()
	if l.pending != nil {
		extent = *l.pending
	}
	if !l.stale && extent == l.presenter.Extent() {
		l.pending = nil
		return nil
	}

	switch l.wait {
	case ResizeWaitFrames:
		if err := l.presenter.WaitAll(); err != nil {
			return err
		}
	default:
		if err := l.presenter.WaitIdle(); err != nil {
			return err
		}
	}
	// every slot fence was observed signaled
	l.retire.Drain()

	err := l.presenter.Rebuild(extent)
	if errors.Is(err, ErrSurfaceStale) {
		// zero sized surface, wait for the next resize
		l.minimized = true
		l.pending = nil
		return nil
	}
	if err != nil {
		return err
	}

	l.pending = nil
	l.stale = false
	if l.presenter.Slots() != l.retire.Slots() {
		l.retire.Resize(l.presenter.Slots())
	}
	l.slot = 0

	log.WithFields(log.Fields{
		"extent": l.presenter.Extent(),
		"slots":  l.presenter.Slots(),
		"wait":   l.wait,
	}).Debug("frame loop rebuilt")

	if err := l.app.OnResize(l.presenter.Extent()); err != nil {
		return errors.Wrap(err, "resize")
	}
	l.viewChanged = true
	return nil
}

// Stop waits for the device to finish every frame in flight and
// releases everything retired. Call it before tearing down.
func (l *FrameLoop) Stop() error {
	if err := l.presenter.WaitIdle(); err != nil {
		return err
	}
	l.retire.Drain()
	return nil
}
