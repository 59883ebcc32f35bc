// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	"github.com/devblok/vkframe/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseSurfaceFormat(t *testing.T) {
	_, err := ChooseSurfaceFormat(nil)
	assert.Error(t, err)

	format, err := ChooseSurfaceFormat([]vk.SurfaceFormat{{Format: vk.FormatUndefined}})
	require.NoError(t, err)
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, format.Format)
	assert.Equal(t, vk.ColorSpaceSrgbNonlinear, format.ColorSpace)

	format, err = ChooseSurfaceFormat([]vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	})
	require.NoError(t, err)
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, format.Format)

	format, err = ChooseSurfaceFormat([]vk.SurfaceFormat{
		{Format: vk.FormatA2b10g10r10UnormPack32, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	})
	require.NoError(t, err)
	assert.Equal(t, vk.FormatA2b10g10r10UnormPack32, format.Format)
}

func TestChoosePresentMode(t *testing.T) {
	all := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate, vk.PresentModeMailbox}
	assert.Equal(t, vk.PresentModeFifo, ChoosePresentMode(all, true))
	assert.Equal(t, vk.PresentModeMailbox, ChoosePresentMode(all, false))
	assert.Equal(t, vk.PresentModeImmediate, ChoosePresentMode(all[:2], false))
	assert.Equal(t, vk.PresentModeFifo, ChoosePresentMode(all[:1], false))
	assert.Equal(t, vk.PresentModeFifo, ChoosePresentMode(nil, false))
}

func TestChooseExtent(t *testing.T) {
	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: 1280, Height: 720},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
	}
	assert.Equal(t, gfx.Extent2D{Width: 1280, Height: 720}, ChooseExtent(caps, gfx.Extent2D{Width: 800, Height: 600}))

	caps.CurrentExtent = vk.Extent2D{Width: undefinedExtent, Height: undefinedExtent}
	assert.Equal(t, gfx.Extent2D{Width: 800, Height: 600}, ChooseExtent(caps, gfx.Extent2D{Width: 800, Height: 600}))
	assert.Equal(t, gfx.Extent2D{Width: 4096, Height: 1}, ChooseExtent(caps, gfx.Extent2D{Width: 9000, Height: 0}))

	caps.CurrentExtent = vk.Extent2D{}
	assert.True(t, ChooseExtent(caps, gfx.Extent2D{Width: 800, Height: 600}).Empty())
}

func TestChooseImageCount(t *testing.T) {
	caps := vk.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 3}
	assert.Equal(t, uint32(3), ChooseImageCount(caps, 0))
	assert.Equal(t, uint32(2), ChooseImageCount(caps, 1))
	assert.Equal(t, uint32(3), ChooseImageCount(caps, 8))

	caps.MaxImageCount = 0
	assert.Equal(t, uint32(8), ChooseImageCount(caps, 8))

	caps = vk.SurfaceCapabilities{MinImageCount: 3, MaxImageCount: 3}
	assert.Equal(t, uint32(3), ChooseImageCount(caps, 0))
}

func TestChooseCompositeAlphaAndTransform(t *testing.T) {
	assert.Equal(t, vk.CompositeAlphaOpaqueBit,
		ChooseCompositeAlpha(vk.CompositeAlphaFlags(vk.CompositeAlphaOpaqueBit|vk.CompositeAlphaInheritBit)))
	assert.Equal(t, vk.CompositeAlphaInheritBit,
		ChooseCompositeAlpha(vk.CompositeAlphaFlags(vk.CompositeAlphaInheritBit)))
	assert.Equal(t, vk.CompositeAlphaOpaqueBit, ChooseCompositeAlpha(0))

	caps := vk.SurfaceCapabilities{
		SupportedTransforms: vk.SurfaceTransformFlags(vk.SurfaceTransformIdentityBit | vk.SurfaceTransformRotate90Bit),
		CurrentTransform:    vk.SurfaceTransformRotate90Bit,
	}
	assert.Equal(t, vk.SurfaceTransformIdentityBit, ChoosePreTransform(caps))
	caps.SupportedTransforms = vk.SurfaceTransformFlags(vk.SurfaceTransformRotate90Bit)
	assert.Equal(t, vk.SurfaceTransformRotate90Bit, ChoosePreTransform(caps))
}
