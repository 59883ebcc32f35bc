// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	"github.com/devblok/vkframe/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	colorTarget = Attachment{Format: vk.FormatB8g8r8a8Unorm, FinalLayout: vk.ImageLayoutPresentSrc}
	gbuffer     = Attachment{Format: vk.FormatR16g16b16a16Sfloat, FinalLayout: vk.ImageLayoutShaderReadOnlyOptimal}
	depthTarget = Attachment{Format: vk.FormatD32Sfloat, FinalLayout: vk.ImageLayoutDepthStencilAttachmentOptimal}
)

func TestPlanRenderPassDependencyChain(t *testing.T) {
	for n := 1; n <= 3; n++ {
		subpasses := make([]Subpass, n)
		for idx := range subpasses {
			subpasses[idx] = Subpass{Outputs: []uint32{0}}
		}
		plan, err := PlanRenderPass([]Attachment{colorTarget}, subpasses)
		require.NoError(t, err)
		require.Len(t, plan.Dependencies, n+1, "%d subpasses", n)

		first := plan.Dependencies[0]
		assert.Equal(t, uint32(vk.SubpassExternal), first.SrcSubpass)
		assert.Equal(t, uint32(0), first.DstSubpass)

		for idx := 1; idx < n; idx++ {
			dep := plan.Dependencies[idx]
			assert.Equal(t, uint32(idx-1), dep.SrcSubpass)
			assert.Equal(t, uint32(idx), dep.DstSubpass)
			assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), dep.DstStageMask)
			assert.NotZero(t, dep.DstAccessMask&vk.AccessFlags(vk.AccessInputAttachmentReadBit))
		}

		last := plan.Dependencies[n]
		assert.Equal(t, uint32(n-1), last.SrcSubpass)
		assert.Equal(t, uint32(vk.SubpassExternal), last.DstSubpass)

		for _, dep := range plan.Dependencies {
			assert.Equal(t, vk.DependencyFlags(vk.DependencyByRegionBit), dep.DependencyFlags)
			assert.Zero(t, dep.SrcAccessMask&vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit))
		}
	}
}

func TestPlanRenderPassDepthPropagation(t *testing.T) {
	plan, err := PlanRenderPass(
		[]Attachment{colorTarget, gbuffer, depthTarget},
		[]Subpass{
			{Outputs: []uint32{1, 2}},
			{Inputs: []uint32{1, 2}, Outputs: []uint32{0}},
		},
	)
	require.NoError(t, err)
	require.Len(t, plan.Dependencies, 3)

	depthStages := vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	depthWrite := vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	assert.Equal(t, depthStages, plan.Dependencies[0].DstStageMask&depthStages)
	assert.NotZero(t, plan.Dependencies[0].DstAccessMask&depthWrite)
	assert.Equal(t, depthStages, plan.Dependencies[1].SrcStageMask&depthStages)
	assert.NotZero(t, plan.Dependencies[1].SrcAccessMask&depthWrite)
	assert.Equal(t, depthStages, plan.Dependencies[2].SrcStageMask&depthStages)

	geometry := plan.Subpasses[0]
	require.NotNil(t, geometry.Depth)
	assert.Equal(t, uint32(2), geometry.Depth.Attachment)
	assert.Equal(t, vk.ImageLayoutDepthStencilAttachmentOptimal, geometry.Depth.Layout)
	assert.Equal(t, []vk.AttachmentReference{{Attachment: 1, Layout: vk.ImageLayoutColorAttachmentOptimal}}, geometry.Colors)

	lighting := plan.Subpasses[1]
	assert.Nil(t, lighting.Depth)
	assert.Equal(t, []vk.AttachmentReference{
		{Attachment: 1, Layout: vk.ImageLayoutShaderReadOnlyOptimal},
		{Attachment: 2, Layout: vk.ImageLayoutDepthStencilReadOnlyOptimal},
	}, lighting.Inputs)

	depth := plan.Attachments[2]
	assert.Equal(t, vk.AttachmentStoreOpDontCare, depth.StoreOp)
	assert.Equal(t, vk.AttachmentLoadOpClear, depth.StencilLoadOp)
	assert.Equal(t, vk.ImageLayoutUndefined, depth.InitialLayout)
	assert.Equal(t, Clear{Depth: true, Value: 1}, plan.Clears[2])
}

func TestPlanRenderPassImplicitSubpass(t *testing.T) {
	plan, err := PlanRenderPass([]Attachment{colorTarget, depthTarget}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Subpasses, 1)
	require.Len(t, plan.Dependencies, 2)

	sub := plan.Subpasses[0]
	assert.Len(t, sub.Colors, 1)
	require.NotNil(t, sub.Depth)
	assert.Equal(t, uint32(1), sub.Depth.Attachment)

	color := plan.Attachments[0]
	assert.Equal(t, vk.AttachmentLoadOpClear, color.LoadOp)
	assert.Equal(t, vk.AttachmentStoreOpStore, color.StoreOp)
	assert.Equal(t, vk.ImageLayoutPresentSrc, color.FinalLayout)
	assert.Equal(t, Clear{Color: mgl32.Vec4{0, 0, 0, 1}}, plan.Clears[0])
}

func TestPlanRenderPassErrors(t *testing.T) {
	_, err := PlanRenderPass(nil, nil)
	assert.Error(t, err)

	_, err = PlanRenderPass([]Attachment{colorTarget}, []Subpass{{Outputs: []uint32{1}}})
	assert.Error(t, err)

	_, err = PlanRenderPass([]Attachment{colorTarget}, []Subpass{{Inputs: []uint32{3}, Outputs: []uint32{0}}})
	assert.Error(t, err)

	_, err = PlanRenderPass([]Attachment{depthTarget, depthTarget}, []Subpass{{Outputs: []uint32{0, 1}}})
	assert.Error(t, err)
}

func TestRenderPassClearOverrides(t *testing.T) {
	plan, err := PlanRenderPass([]Attachment{colorTarget, depthTarget}, nil)
	require.NoError(t, err)
	pass := &RenderPass{plan: plan}

	red := mgl32.Vec4{1, 0, 0, 1}
	require.NoError(t, pass.SetClearColor(0, red))
	require.NoError(t, pass.SetClearDepth(1, 0, 7))
	assert.Error(t, pass.SetClearColor(1, red))
	assert.Error(t, pass.SetClearDepth(0, 1, 0))
	assert.Error(t, pass.SetClearColor(2, red))
	assert.Equal(t, red, pass.Plan().Clears[0].Color)
	assert.Equal(t, Clear{Depth: true, Value: 0, Stencil: 7}, pass.Plan().Clears[1])

	fb := &Framebuffer{pass: pass, extent: gfx.Extent2D{Width: 256, Height: 128}}
	blue := mgl32.Vec4{0, 0, 1, 1}
	require.NoError(t, fb.SetClearColor(0, blue))
	assert.Equal(t, blue, fb.clears[0].Color)
	assert.Equal(t, red, pass.plan.Clears[0].Color)
	assert.Equal(t, float32(256), fb.Viewport().Width)
	assert.Equal(t, uint32(128), fb.Scissor().Extent.Height)
}

func TestRenderPassColorAttachments(t *testing.T) {
	plan, err := PlanRenderPass(
		[]Attachment{colorTarget, gbuffer, depthTarget},
		[]Subpass{{Outputs: []uint32{0, 1, 2}}, {Inputs: []uint32{1}, Outputs: []uint32{0}}},
	)
	require.NoError(t, err)
	pass := &RenderPass{plan: plan}

	n, err := pass.ColorAttachments(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = pass.ColorAttachments(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = pass.ColorAttachments(2)
	assert.Error(t, err)
	assert.Equal(t, 2, pass.Subpasses())
}

func TestRenderPassForgetFramebuffer(t *testing.T) {
	pass := &RenderPass{}
	a, b := &Framebuffer{pass: pass}, &Framebuffer{pass: pass}
	pass.addFramebuffer(a)
	pass.addFramebuffer(b)
	pass.current = a

	pass.forget(a)
	assert.Equal(t, []*Framebuffer{b}, pass.Framebuffers())
	assert.Nil(t, pass.current)

	pass.ResetFramebuffers()
	assert.Empty(t, pass.Framebuffers())
}
