// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	vk "github.com/devblok/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizedPipelineOptions(t *testing.T) {
	names := RecognizedPipelineOptions()
	assert.IsIncreasing(t, names)
	for _, name := range []string{"topology", "cull", "front-face", "polygon", "line-width", "blend",
		"depth-test", "depth-write", "depth-bias", "primitive-restart", "push-constants", "subpass"} {
		assert.Contains(t, names, name)
	}
	assert.Len(t, names, len(pipelineOptions))
}

func TestPipelineConfigApply(t *testing.T) {
	cfg := DefaultPipelineConfig()
	err := cfg.Apply(map[string]string{
		"topology":       "Line-Strip",
		"cull":           "none",
		"front-face":     "ccw",
		"polygon":        "line",
		"line-width":     "2.5",
		"depth-write":    "false",
		"push-constants": "64",
		"subpass":        "1",
	})
	require.NoError(t, err)

	assert.Equal(t, vk.PrimitiveTopologyLineStrip, cfg.Topology)
	assert.Equal(t, vk.CullModeFlags(vk.CullModeNone), cfg.CullMode)
	assert.Equal(t, vk.FrontFaceCounterClockwise, cfg.FrontFace)
	assert.Equal(t, vk.PolygonModeLine, cfg.PolygonMode)
	assert.Equal(t, float32(2.5), cfg.LineWidth)
	assert.True(t, cfg.DepthTest)
	assert.False(t, cfg.DepthWrite)
	assert.Equal(t, uint32(64), cfg.PushConstantSize)
	assert.Equal(t, uint32(1), cfg.Subpass)
}

func TestPipelineConfigApplyUnknownOption(t *testing.T) {
	cfg := DefaultPipelineConfig()
	err := cfg.Apply(map[string]string{"cull": "none", "wireframe": "true"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"wireframe"`)
	assert.Contains(t, err.Error(), "depth-test")
	assert.Equal(t, DefaultPipelineConfig(), cfg)
}

func TestPipelineConfigApplyBadValue(t *testing.T) {
	for bad, opts := range map[string]map[string]string{
		"hexagon-list": {"blend": "true", "topology": "hexagon-list"},
		"maybe":        {"depth-test": "maybe"},
		"-1":           {"push-constants": "-1"},
		"sideways":     {"front-face": "sideways"},
	} {
		cfg := DefaultPipelineConfig()
		err := cfg.Apply(opts)
		require.Error(t, err, bad)
		assert.Contains(t, err.Error(), bad)
		// nothing gets applied on failure
		assert.Equal(t, DefaultPipelineConfig(), cfg)
	}

	cfg := DefaultPipelineConfig()
	err := cfg.Apply(map[string]string{"topology": "quads"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "point-list, triangle-fan, triangle-list, triangle-strip")
}

func TestPipelineConfigEffective(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.Blend = true
	cfg.LineWidth = 0

	eff := cfg.effective()
	assert.Equal(t, vk.CullModeFlags(vk.CullModeNone), eff.CullMode)
	assert.False(t, eff.DepthWrite)
	assert.True(t, eff.DepthTest)
	assert.Equal(t, float32(1), eff.LineWidth)

	// the receiver stays untouched
	assert.Equal(t, vk.CullModeFlags(vk.CullModeBackBit), cfg.CullMode)

	opaque := DefaultPipelineConfig().effective()
	assert.True(t, opaque.DepthWrite)
	assert.Equal(t, vk.CullModeFlags(vk.CullModeBackBit), opaque.CullMode)
}

func TestPipelineConfigBlendAttachments(t *testing.T) {
	cfg := DefaultPipelineConfig()
	states, err := cfg.blendAttachments(2)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, vk.Bool32(vk.False), states[0].BlendEnable)
	assert.Equal(t, vk.ColorComponentFlags(0xF), states[1].ColorWriteMask)

	cfg.Blend = true
	states, err = cfg.blendAttachments(1)
	require.NoError(t, err)
	assert.Equal(t, vk.Bool32(vk.True), states[0].BlendEnable)
	assert.Equal(t, vk.BlendFactorSrcAlpha, states[0].SrcColorBlendFactor)
	assert.Equal(t, vk.BlendFactorOneMinusSrcAlpha, states[0].DstColorBlendFactor)

	states, err = cfg.blendAttachments(0)
	require.NoError(t, err)
	assert.Empty(t, states)

	cfg.BlendAttachments = []vk.PipelineColorBlendAttachmentState{{ColorWriteMask: 0x1}}
	states, err = cfg.blendAttachments(1)
	require.NoError(t, err)
	assert.Equal(t, vk.ColorComponentFlags(0x1), states[0].ColorWriteMask)
	_, err = cfg.blendAttachments(2)
	assert.Error(t, err)
}

func TestPipelineConfigDynamicStates(t *testing.T) {
	cfg := DefaultPipelineConfig()
	assert.Equal(t, []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}, cfg.dynamicStates())
	cfg.DepthBias = true
	assert.Contains(t, cfg.dynamicStates(), vk.DynamicStateDepthBias)
}

func TestPipelineBuilder(t *testing.T) {
	cfg, err := NewPipelineBuilder(Handle[RenderPass]{}).
		Subpass(1).
		Topology(vk.PrimitiveTopologyPointList).
		Blend(true).
		Depth(false, false).
		FrontFace(vk.FrontFaceCounterClockwise).
		PushConstants(16).
		Config()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cfg.Subpass)
	assert.Equal(t, vk.PrimitiveTopologyPointList, cfg.Topology)
	assert.True(t, cfg.Blend)
	assert.False(t, cfg.DepthTest)
	assert.Equal(t, uint32(16), cfg.PushConstantSize)
	assert.Equal(t, vk.PolygonModeFill, cfg.PolygonMode)
}

func TestPipelineBuilderKeepsFirstError(t *testing.T) {
	b := NewPipelineBuilder(Handle[RenderPass]{}).
		Options(map[string]string{"cull": "sideways"}).
		Options(map[string]string{"unknown": "x"}).
		Options(map[string]string{"polygon": "line"})
	cfg, err := b.Config()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
	assert.Equal(t, vk.PolygonModeFill, cfg.PolygonMode)

	_, err = b.Build(nil)
	assert.Error(t, err)
}

func TestPipelinePushConstantsRange(t *testing.T) {
	p := &Pipeline{layout: &PipelineLayout{pushSize: 16}}
	assert.NoError(t, p.PushConstants(nil, 0, nil))
	assert.Error(t, p.PushConstants(nil, 8, make([]byte, 12)))
	assert.Error(t, p.PushConstants(nil, 0, make([]byte, 20)))
}
