// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/vkframe/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PresenterOptions configures a SwapchainPresenter.
type PresenterOptions struct {
	Swapchain SwapchainOptions

	// Depth adds a depth attachment to the main render pass.
	Depth bool

	// ClearColor of the swapchain attachment.
	ClearColor mgl32.Vec4
}

type frameSlot struct {
	commands vk.CommandBuffer

	fence    Handle[Fence]
	acquired Handle[Semaphore]

	recording bool
	// armed is set while the fence is unsignaled and nothing has been
	// submitted to signal it.
	armed bool
}

// SwapchainPresenter presents to a surface through a swapchain. It owns
// the main render pass with a framebuffer per swapchain image, the depth
// target, one frame slot per swapchain image and the semaphore each
// image is presented on.
type SwapchainPresenter struct {
	factory   *Factory
	device    *Device
	swapchain *Swapchain
	opts      PresenterOptions

	pass         Handle[RenderPass]
	depth        Handle[Texture]
	framebuffers []Handle[Framebuffer]
	slots        []frameSlot
	rendered     []Handle[Semaphore]
}

// NewSwapchainPresenter builds the swapchain for surface and everything
// rendering into it needs.
func NewSwapchainPresenter(factory *Factory, surface vk.Surface, opts PresenterOptions) (*SwapchainPresenter, error) {
	swapchain, err := NewSwapchain(factory.Device(), surface, opts.Swapchain)
	if err != nil {
		return nil, err
	}
	p := &SwapchainPresenter{
		factory:   factory,
		device:    factory.Device(),
		swapchain: swapchain,
		opts:      opts,
	}
	if err := p.build(); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *SwapchainPresenter) attachments() ([]Attachment, error) {
	attachments := []Attachment{{
		Format:      p.swapchain.Format(),
		FinalLayout: vk.ImageLayoutPresentSrc,
	}}
	if p.opts.Depth {
		format, ok := p.device.Adapter().DepthFormat()
		if !ok {
			return nil, errors.New("adapter supports no depth format")
		}
		attachments = append(attachments, Attachment{
			Format:      format,
			FinalLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
	}
	return attachments, nil
}

// build creates whatever of the pass, depth target, framebuffers and
// slots is missing or no longer fits the swapchain.
func (p *SwapchainPresenter) build() error {
	f := p.factory
	extent := p.swapchain.Extent()

	for _, fb := range p.framebuffers {
		f.Free(fb)
	}
	p.framebuffers = nil

	if pass, err := f.RenderPass(p.pass); err != nil || pass.plan.Attachments[0].Format != p.swapchain.Format() {
		if p.pass.Valid() {
			f.Free(p.pass)
		}
		attachments, err := p.attachments()
		if err != nil {
			return err
		}
		if p.pass, err = f.CreateRenderPass(attachments, nil); err != nil {
			return err
		}
	}
	pass, err := f.RenderPass(p.pass)
	if err != nil {
		return err
	}
	if err := pass.SetClearColor(0, p.opts.ClearColor); err != nil {
		return err
	}

	var depthView vk.ImageView
	if p.opts.Depth {
		if p.depth.Valid() {
			f.Free(p.depth)
		}
		if p.depth, err = f.CreateDepthTarget(extent); err != nil {
			return err
		}
		depth, err := f.Texture(p.depth)
		if err != nil {
			return err
		}
		depthView = depth.View()
	}

	for _, view := range p.swapchain.Views() {
		views := []vk.ImageView{view}
		if p.opts.Depth {
			views = append(views, depthView)
		}
		fb, err := f.CreateFramebuffer(p.pass, views, extent)
		if err != nil {
			return err
		}
		p.framebuffers = append(p.framebuffers, fb)
	}

	if len(p.slots) != p.swapchain.ImageCount() {
		p.releaseSlots()
		if err := p.createSlots(p.swapchain.ImageCount()); err != nil {
			return err
		}
	}
	return nil
}

func (p *SwapchainPresenter) createSlots(n int) error {
	family := p.device.Families().Graphics
	buffers, err := p.device.AllocateCommandBuffers(family, vk.CommandBufferLevelPrimary, n)
	if err != nil {
		return err
	}
	for idx := 0; idx < n; idx++ {
		slot := frameSlot{commands: buffers[idx]}
		// signaled, so waiting before the first submission returns
		if slot.fence, err = p.factory.CreateFence(true); err != nil {
			return err
		}
		if slot.acquired, err = p.factory.CreateSemaphore(); err != nil {
			return err
		}
		p.slots = append(p.slots, slot)

		rendered, err := p.factory.CreateSemaphore()
		if err != nil {
			return err
		}
		p.rendered = append(p.rendered, rendered)
	}
	return nil
}

func (p *SwapchainPresenter) releaseSlots() {
	if len(p.slots) == 0 {
		return
	}
	buffers := make([]vk.CommandBuffer, 0, len(p.slots))
	for _, s := range p.slots {
		buffers = append(buffers, s.commands)
		p.factory.Free(s.fence)
		p.factory.Free(s.acquired)
	}
	for _, h := range p.rendered {
		p.factory.Free(h)
	}
	p.device.FreeCommandBuffers(p.device.Families().Graphics, buffers)
	p.slots = nil
	p.rendered = nil
}

func (p *SwapchainPresenter) slot(idx int) (*frameSlot, error) {
	if idx < 0 || idx >= len(p.slots) {
		return nil, errors.Errorf("frame slot %d out of %d", idx, len(p.slots))
	}
	return &p.slots[idx], nil
}

func (p *SwapchainPresenter) renderedSemaphore(image uint32) (vk.Semaphore, error) {
	if int(image) >= len(p.rendered) {
		return vk.NullSemaphore, errors.Errorf("swapchain image %d out of %d", image, len(p.rendered))
	}
	return p.semaphore(p.rendered[image]), nil
}

func (p *SwapchainPresenter) semaphore(h Handle[Semaphore]) vk.Semaphore {
	s, err := p.factory.Semaphore(h)
	if err != nil {
		return vk.NullSemaphore
	}
	return s.Get()
}

// Slots implements Presenter.
func (p *SwapchainPresenter) Slots() int {
	return len(p.slots)
}

// WaitSlot implements Presenter. A slot whose fence was reset without a
// submission following is not waited on, nothing would signal it.
func (p *SwapchainPresenter) WaitSlot(slot int) error {
	s, err := p.slot(slot)
	if err != nil {
		return err
	}
	if s.armed {
		log.WithField("slot", slot).Warn("skipping wait on an unsubmitted frame slot")
		return nil
	}
	fence, err := p.factory.Fence(s.fence)
	if err != nil {
		return err
	}
	return fence.Wait(-1)
}

// ResetSlot implements Presenter.
func (p *SwapchainPresenter) ResetSlot(slot int) error {
	s, err := p.slot(slot)
	if err != nil {
		return err
	}
	fence, err := p.factory.Fence(s.fence)
	if err != nil {
		return err
	}
	if err := fence.Reset(); err != nil {
		return err
	}
	s.armed = true
	return nil
}

// Acquire implements Presenter.
func (p *SwapchainPresenter) Acquire(slot int) (uint32, bool, error) {
	s, err := p.slot(slot)
	if err != nil {
		return 0, false, err
	}
	return p.swapchain.Acquire(p.semaphore(s.acquired))
}

// BeginCommands implements Presenter.
func (p *SwapchainPresenter) BeginCommands(slot int) (vk.CommandBuffer, error) {
	s, err := p.slot(slot)
	if err != nil {
		return nil, err
	}
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(s.commands, &cbbi)); err != nil {
		return nil, errors.Wrapf(err, "vk.BeginCommandBuffer()[%d]", slot)
	}
	s.recording = true
	return s.commands, nil
}

// EndCommands implements Presenter.
func (p *SwapchainPresenter) EndCommands(slot int) error {
	s, err := p.slot(slot)
	if err != nil {
		return err
	}
	// a failed end leaves the buffer invalid, it is not recording either way
	s.recording = false
	if err := vk.Error(vk.EndCommandBuffer(s.commands)); err != nil {
		return errors.Wrapf(err, "vk.EndCommandBuffer()[%d]", slot)
	}
	return nil
}

// Submit implements Presenter.
func (p *SwapchainPresenter) Submit(slot int, image uint32, buffers []vk.CommandBuffer) error {
	s, err := p.slot(slot)
	if err != nil {
		return err
	}
	fence, err := p.factory.Fence(s.fence)
	if err != nil {
		return err
	}
	rendered, err := p.renderedSemaphore(image)
	if err != nil {
		return err
	}
	submit := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{p.semaphore(s.acquired)},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		},
		CommandBufferCount:   uint32(len(buffers)),
		PCommandBuffers:      buffers,
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{rendered},
	}}
	if err := vk.Error(vk.QueueSubmit(p.device.GraphicsQueue(), 1, submit, fence.Get())); err != nil {
		return errors.Wrap(err, "vk.QueueSubmit()")
	}
	s.armed = false
	return nil
}

// Discard implements Presenter. It submits an empty batch that consumes
// the acquire semaphore and signals the slot fence.
func (p *SwapchainPresenter) Discard(slot int) error {
	s, err := p.slot(slot)
	if err != nil {
		return err
	}
	if s.recording {
		if err := p.EndCommands(slot); err != nil {
			log.WithError(err).WithField("slot", slot).Debug("ending discarded commands")
		}
	}
	fence, err := p.factory.Fence(s.fence)
	if err != nil {
		return err
	}
	if !s.armed {
		if err := fence.Reset(); err != nil {
			return err
		}
		s.armed = true
	}
	submit := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{p.semaphore(s.acquired)},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		},
	}}
	if err := vk.Error(vk.QueueSubmit(p.device.GraphicsQueue(), 1, submit, fence.Get())); err != nil {
		return errors.Wrap(err, "vk.QueueSubmit()")
	}
	s.armed = false
	return nil
}

// Present implements Presenter.
func (p *SwapchainPresenter) Present(slot int, image uint32) (bool, error) {
	if _, err := p.slot(slot); err != nil {
		return false, err
	}
	rendered, err := p.renderedSemaphore(image)
	if err != nil {
		return false, err
	}
	return p.swapchain.Present(p.device.PresentQueue(), rendered, image)
}

// Rebuild implements Presenter. The caller makes sure none of the
// frame slots is in flight.
func (p *SwapchainPresenter) Rebuild(extent gfx.Extent2D) error {
	if err := p.swapchain.Rebuild(extent); err != nil {
		return err
	}
	if err := p.build(); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"extent": p.swapchain.Extent(),
		"slots":  len(p.slots),
	}).Debug("presenter rebuilt")
	return nil
}

// WaitIdle implements Presenter.
func (p *SwapchainPresenter) WaitIdle() error {
	return p.device.WaitIdle()
}

// WaitAll implements Presenter.
func (p *SwapchainPresenter) WaitAll() error {
	for idx := range p.slots {
		if err := p.WaitSlot(idx); err != nil {
			return err
		}
	}
	return nil
}

// Extent implements Presenter.
func (p *SwapchainPresenter) Extent() gfx.Extent2D {
	return p.swapchain.Extent()
}

// RenderPass implements Presenter.
func (p *SwapchainPresenter) RenderPass() Handle[RenderPass] {
	return p.pass
}

// Swapchain returns the swapchain presented to.
func (p *SwapchainPresenter) Swapchain() *Swapchain {
	return p.swapchain
}

// Destroy releases everything the presenter created. The device
// must be idle.
func (p *SwapchainPresenter) Destroy() {
	p.releaseSlots()
	for _, fb := range p.framebuffers {
		p.factory.Free(fb)
	}
	p.framebuffers = nil
	if p.depth.Valid() {
		p.factory.Free(p.depth)
	}
	if p.pass.Valid() {
		p.factory.Free(p.pass)
	}
	p.swapchain.Release()
}
