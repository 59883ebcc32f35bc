// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	vk "github.com/devblok/vulkan"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Attachment declares one attachment of a render pass by its format
// and the layout it is left in when the pass ends.
type Attachment struct {
	Format      vk.Format
	FinalLayout vk.ImageLayout
}

// Subpass lists the attachment indices a subpass reads as input
// attachments and the ones it renders to.
type Subpass struct {
	Inputs  []uint32
	Outputs []uint32
}

// Clear is the clear value of one attachment.
type Clear struct {
	Depth   bool
	Color   mgl32.Vec4
	Value   float32
	Stencil uint32
}

func (c Clear) vulkan() vk.ClearValue {
	var value vk.ClearValue
	if c.Depth {
		value.SetDepthStencil(c.Value, c.Stencil)
	} else {
		value.SetColor(c.Color[:])
	}
	return value
}

// DefaultClearColor is what color attachments are cleared to
// unless told otherwise.
var DefaultClearColor = mgl32.Vec4{0, 0, 0, 1}

// SubpassPlan holds the attachment references of one subpass.
type SubpassPlan struct {
	Colors []vk.AttachmentReference
	Depth  *vk.AttachmentReference
	Inputs []vk.AttachmentReference
}

// RenderPassPlan is everything needed to create a render pass.
type RenderPassPlan struct {
	Attachments  []vk.AttachmentDescription
	Subpasses    []SubpassPlan
	Dependencies []vk.SubpassDependency
	Clears       []Clear
}

// IsDepthLayout reports whether layout is one a depth stencil
// attachment ends a pass in.
func IsDepthLayout(layout vk.ImageLayout) bool {
	return layout == vk.ImageLayoutDepthStencilAttachmentOptimal ||
		layout == vk.ImageLayoutDepthStencilReadOnlyOptimal
}

// PlanRenderPass works out attachment descriptions, subpass references,
// dependencies and clear values out of the declared attachments and
// subpass graph. No subpasses means one subpass rendering to every
// attachment.
func PlanRenderPass(attachments []Attachment, subpasses []Subpass) (RenderPassPlan, error) {
	if len(attachments) == 0 {
		return RenderPassPlan{}, errors.New("render pass needs at least one attachment")
	}

	plan := RenderPassPlan{
		Attachments: make([]vk.AttachmentDescription, len(attachments)),
		Clears:      make([]Clear, len(attachments)),
	}
	var hasDepth bool
	for idx, a := range attachments {
		desc := vk.AttachmentDescription{
			Format:         a.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    a.FinalLayout,
		}
		plan.Clears[idx] = Clear{Color: DefaultClearColor}
		if IsDepthLayout(a.FinalLayout) {
			desc.StoreOp = vk.AttachmentStoreOpDontCare
			desc.StencilLoadOp = vk.AttachmentLoadOpClear
			plan.Clears[idx] = Clear{Depth: true, Value: 1, Stencil: 0}
			hasDepth = true
		}
		plan.Attachments[idx] = desc
	}

	if len(subpasses) == 0 {
		all := make([]uint32, len(attachments))
		for idx := range all {
			all[idx] = uint32(idx)
		}
		subpasses = []Subpass{{Outputs: all}}
	}

	count := uint32(len(attachments))
	plan.Subpasses = make([]SubpassPlan, len(subpasses))
	for sidx, sp := range subpasses {
		var sub SubpassPlan
		for _, out := range sp.Outputs {
			if out >= count {
				return RenderPassPlan{}, errors.Errorf("subpass %d: output %d out of %d attachments", sidx, out, count)
			}
			if IsDepthLayout(attachments[out].FinalLayout) {
				if sub.Depth != nil {
					return RenderPassPlan{}, errors.Errorf("subpass %d: more than one depth output", sidx)
				}
				sub.Depth = &vk.AttachmentReference{
					Attachment: out,
					Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
				}
				continue
			}
			sub.Colors = append(sub.Colors, vk.AttachmentReference{
				Attachment: out,
				Layout:     vk.ImageLayoutColorAttachmentOptimal,
			})
		}
		for _, in := range sp.Inputs {
			if in >= count {
				return RenderPassPlan{}, errors.Errorf("subpass %d: input %d out of %d attachments", sidx, in, count)
			}
			layout := vk.ImageLayoutShaderReadOnlyOptimal
			if IsDepthLayout(attachments[in].FinalLayout) {
				layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
			}
			sub.Inputs = append(sub.Inputs, vk.AttachmentReference{
				Attachment: in,
				Layout:     layout,
			})
		}
		plan.Subpasses[sidx] = sub
	}

	plan.Dependencies = subpassDependencies(len(subpasses), hasDepth)
	return plan, nil
}

// subpassDependencies chains n subpasses in declaration order:
// external to the first, each to the next, the last to external.
func subpassDependencies(n int, depth bool) []vk.SubpassDependency {
	attachmentStages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	attachmentWrites := vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	if depth {
		attachmentStages |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
		attachmentWrites |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}

	deps := make([]vk.SubpassDependency, 0, n+1)
	deps = append(deps, vk.SubpassDependency{
		SrcSubpass:      vk.SubpassExternal,
		DstSubpass:      0,
		SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		DstStageMask:    attachmentStages,
		SrcAccessMask:   vk.AccessFlags(vk.AccessMemoryReadBit),
		DstAccessMask:   vk.AccessFlags(vk.AccessColorAttachmentReadBit) | attachmentWrites,
		DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
	})
	for idx := 0; idx+1 < n; idx++ {
		deps = append(deps, vk.SubpassDependency{
			SrcSubpass:      uint32(idx),
			DstSubpass:      uint32(idx + 1),
			SrcStageMask:    attachmentStages,
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			SrcAccessMask:   attachmentWrites,
			DstAccessMask:   vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessInputAttachmentReadBit),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		})
	}
	deps = append(deps, vk.SubpassDependency{
		SrcSubpass:      uint32(n - 1),
		DstSubpass:      vk.SubpassExternal,
		SrcStageMask:    attachmentStages,
		DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		SrcAccessMask:   vk.AccessFlags(vk.AccessColorAttachmentReadBit) | attachmentWrites,
		DstAccessMask:   vk.AccessFlags(vk.AccessMemoryReadBit),
		DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
	})
	return deps
}

// RenderPass is a created render pass and the framebuffers bound to it.
type RenderPass struct {
	device vk.Device
	pass   vk.RenderPass
	plan   RenderPassPlan

	framebuffers []*Framebuffer
	current      *Framebuffer
	begin        vk.RenderPassBeginInfo
	clears       []vk.ClearValue
}

func (r *RenderPass) kind() Kind { return KindRenderPass }

// Get returns the vulkan render pass handle.
func (r *RenderPass) Get() vk.RenderPass {
	return r.pass
}

// Plan returns what the pass was created from.
func (r *RenderPass) Plan() RenderPassPlan {
	return r.plan
}

// Subpasses returns the number of subpasses.
func (r *RenderPass) Subpasses() int {
	return len(r.plan.Subpasses)
}

// ColorAttachments returns the number of color outputs of subpass.
func (r *RenderPass) ColorAttachments(subpass uint32) (int, error) {
	if int(subpass) >= len(r.plan.Subpasses) {
		return 0, errors.Errorf("subpass %d out of %d", subpass, len(r.plan.Subpasses))
	}
	return len(r.plan.Subpasses[subpass].Colors), nil
}

// SetClearColor overrides the clear color of a color attachment.
func (r *RenderPass) SetClearColor(attachment int, color mgl32.Vec4) error {
	if err := r.checkClear(attachment, false); err != nil {
		return err
	}
	r.plan.Clears[attachment].Color = color
	return nil
}

// SetClearDepth overrides the clear value of a depth attachment.
func (r *RenderPass) SetClearDepth(attachment int, depth float32, stencil uint32) error {
	if err := r.checkClear(attachment, true); err != nil {
		return err
	}
	r.plan.Clears[attachment].Value = depth
	r.plan.Clears[attachment].Stencil = stencil
	return nil
}

func (r *RenderPass) checkClear(attachment int, depth bool) error {
	if attachment < 0 || attachment >= len(r.plan.Clears) {
		return errors.Errorf("attachment %d out of %d", attachment, len(r.plan.Clears))
	}
	if r.plan.Clears[attachment].Depth != depth {
		return errors.Errorf("attachment %d: clear value kind mismatch", attachment)
	}
	return nil
}

// Framebuffers returns the framebuffers bound to the pass, in the
// order they were created.
func (r *RenderPass) Framebuffers() []*Framebuffer {
	return r.framebuffers
}

// ResetFramebuffers unbinds every framebuffer from the pass.
// The framebuffers themselves stay alive until freed.
func (r *RenderPass) ResetFramebuffers() {
	r.framebuffers = nil
	r.current = nil
}

func (r *RenderPass) addFramebuffer(fb *Framebuffer) {
	r.framebuffers = append(r.framebuffers, fb)
}

func (r *RenderPass) forget(fb *Framebuffer) {
	if r.current == fb {
		r.current = nil
	}
	for idx, f := range r.framebuffers {
		if f == fb {
			r.framebuffers = append(r.framebuffers[:idx], r.framebuffers[idx+1:]...)
			return
		}
	}
}

// Begin records the start of the pass on framebuffer fb into cmd.
// Inline contents also get the viewport and scissor of the framebuffer;
// secondary command buffers have to set their own.
func (r *RenderPass) Begin(cmd vk.CommandBuffer, fb int, contents vk.SubpassContents) error {
	if fb < 0 || fb >= len(r.framebuffers) {
		return errors.Errorf("framebuffer %d out of %d", fb, len(r.framebuffers))
	}
	target := r.framebuffers[fb]
	if r.current != target {
		r.begin.Framebuffer = target.framebuffer
		r.begin.RenderArea = vk.Rect2D{
			Extent: vk.Extent2D{
				Width:  target.extent.Width,
				Height: target.extent.Height,
			},
		}
		r.current = target
	}

	clears := r.plan.Clears
	if target.clears != nil {
		clears = target.clears
	}
	for idx, c := range clears {
		r.clears[idx] = c.vulkan()
	}
	r.begin.PClearValues = r.clears

	vk.CmdBeginRenderPass(cmd, &r.begin, contents)
	if contents == vk.SubpassContentsInline {
		vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{target.Viewport()})
		vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{target.Scissor()})
	}
	return nil
}

// NextSubpass records the move to the next subpass.
func (r *RenderPass) NextSubpass(cmd vk.CommandBuffer, contents vk.SubpassContents) {
	vk.CmdNextSubpass(cmd, contents)
}

// End records the end of the pass.
func (r *RenderPass) End(cmd vk.CommandBuffer) {
	vk.CmdEndRenderPass(cmd)
}

// Release destroys the render pass.
func (r *RenderPass) Release() {
	r.framebuffers = nil
	r.current = nil
	vk.DestroyRenderPass(r.device, r.pass, nil)
}

// CreateRenderPass plans and creates a render pass.
func (f *Factory) CreateRenderPass(attachments []Attachment, subpasses []Subpass) (Handle[RenderPass], error) {
	plan, err := PlanRenderPass(attachments, subpasses)
	if err != nil {
		return Handle[RenderPass]{}, err
	}

	descriptions := make([]vk.SubpassDescription, len(plan.Subpasses))
	for idx, sub := range plan.Subpasses {
		descriptions[idx] = vk.SubpassDescription{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			InputAttachmentCount:    uint32(len(sub.Inputs)),
			PInputAttachments:       sub.Inputs,
			ColorAttachmentCount:    uint32(len(sub.Colors)),
			PColorAttachments:       sub.Colors,
			PDepthStencilAttachment: sub.Depth,
		}
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(plan.Attachments)),
		PAttachments:    plan.Attachments,
		SubpassCount:    uint32(len(descriptions)),
		PSubpasses:      descriptions,
		DependencyCount: uint32(len(plan.Dependencies)),
		PDependencies:   plan.Dependencies,
	}
	var pass vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(f.device.Handle(), &rpci, nil, &pass)); err != nil {
		return Handle[RenderPass]{}, errors.Wrap(err, "vk.CreateRenderPass()")
	}

	log.WithFields(log.Fields{
		"attachments":  len(plan.Attachments),
		"subpasses":    len(plan.Subpasses),
		"dependencies": len(plan.Dependencies),
	}).Debug("render pass created")

	return insert(f, &RenderPass{
		device: f.device.Handle(),
		pass:   pass,
		plan:   plan,
		clears: make([]vk.ClearValue, len(plan.Clears)),
		begin: vk.RenderPassBeginInfo{
			SType:           vk.StructureTypeRenderPassBeginInfo,
			RenderPass:      pass,
			ClearValueCount: uint32(len(plan.Clears)),
		},
	}), nil
}

// RenderPass returns the render pass behind h.
func (f *Factory) RenderPass(h Handle[RenderPass]) (*RenderPass, error) {
	return resolve(f, h)
}
