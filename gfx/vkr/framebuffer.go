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
)

// Framebuffer binds image views to the attachments of one render pass.
type Framebuffer struct {
	device      vk.Device
	framebuffer vk.Framebuffer
	pass        *RenderPass
	handle      gfx.Handle
	extent      gfx.Extent2D

	// clears overrides the clear values of the pass when set.
	clears []Clear
}

func (fb *Framebuffer) kind() Kind { return KindFramebuffer }

// Get returns the vulkan framebuffer handle.
func (fb *Framebuffer) Get() vk.Framebuffer {
	return fb.framebuffer
}

// Extent returns the size of the framebuffer.
func (fb *Framebuffer) Extent() gfx.Extent2D {
	return fb.extent
}

// Viewport covers the whole framebuffer with the full depth range.
func (fb *Framebuffer) Viewport() vk.Viewport {
	return vk.Viewport{
		Width:    float32(fb.extent.Width),
		Height:   float32(fb.extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
}

// Scissor covers the whole framebuffer.
func (fb *Framebuffer) Scissor() vk.Rect2D {
	return vk.Rect2D{
		Extent: vk.Extent2D{
			Width:  fb.extent.Width,
			Height: fb.extent.Height,
		},
	}
}

// SetClearColor overrides the clear color of one attachment for this
// framebuffer only.
func (fb *Framebuffer) SetClearColor(attachment int, color mgl32.Vec4) error {
	if err := fb.pass.checkClear(attachment, false); err != nil {
		return err
	}
	if fb.clears == nil {
		fb.clears = append([]Clear(nil), fb.pass.plan.Clears...)
	}
	fb.clears[attachment].Color = color
	return nil
}

// Release destroys the framebuffer.
func (fb *Framebuffer) Release() {
	vk.DestroyFramebuffer(fb.device, fb.framebuffer, nil)
}

// CreateFramebuffer creates a framebuffer over views, one per attachment
// of pass, and appends it to the framebuffers of the pass.
func (f *Factory) CreateFramebuffer(pass Handle[RenderPass], views []vk.ImageView, extent gfx.Extent2D) (Handle[Framebuffer], error) {
	rp, err := f.RenderPass(pass)
	if err != nil {
		return Handle[Framebuffer]{}, err
	}
	if len(views) != len(rp.plan.Attachments) {
		return Handle[Framebuffer]{}, errors.Errorf("%d views for a pass of %d attachments", len(views), len(rp.plan.Attachments))
	}
	if extent.Empty() {
		return Handle[Framebuffer]{}, errors.Errorf("framebuffer extent %dx%d", extent.Width, extent.Height)
	}

	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	var framebuffer vk.Framebuffer
	if err := vk.Error(vk.CreateFramebuffer(f.device.Handle(), &fci, nil, &framebuffer)); err != nil {
		return Handle[Framebuffer]{}, errors.Wrap(err, "vk.CreateFramebuffer()")
	}

	fb := &Framebuffer{
		device:      f.device.Handle(),
		framebuffer: framebuffer,
		pass:        rp,
		extent:      extent,
	}
	h := insert(f, fb)
	fb.handle = h.Handle
	rp.addFramebuffer(fb)
	return h, nil
}

// Framebuffer returns the framebuffer behind h.
func (f *Factory) Framebuffer(h Handle[Framebuffer]) (*Framebuffer, error) {
	return resolve(f, h)
}
