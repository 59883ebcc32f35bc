// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutBarrier(t *testing.T) {
	cases := []struct {
		from, to vk.ImageLayout
		src, dst vk.PipelineStageFlagBits
	}{
		{vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal, vk.PipelineStageTopOfPipeBit, vk.PipelineStageTransferBit},
		{vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal, vk.PipelineStageTransferBit, vk.PipelineStageFragmentShaderBit},
		{vk.ImageLayoutUndefined, vk.ImageLayoutDepthStencilAttachmentOptimal, vk.PipelineStageTopOfPipeBit, vk.PipelineStageEarlyFragmentTestsBit},
		{vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutTransferSrcOptimal, vk.PipelineStageColorAttachmentOutputBit, vk.PipelineStageTransferBit},
		{vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal, vk.PipelineStageTransferBit, vk.PipelineStageTransferBit},
	}
	for _, c := range cases {
		barrier, err := LayoutBarrier(c.from, c.to)
		require.NoError(t, err, "%d -> %d", c.from, c.to)
		assert.Equal(t, vk.PipelineStageFlags(c.src), barrier.SrcStage)
		assert.Equal(t, vk.PipelineStageFlags(c.dst), barrier.DstStage)
	}

	barrier, err := LayoutBarrier(vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
	require.NoError(t, err)
	assert.Zero(t, barrier.SrcAccess)
	assert.Equal(t, vk.AccessFlags(vk.AccessTransferWriteBit), barrier.DstAccess)
}

func TestLayoutBarrierUnsupported(t *testing.T) {
	for _, pair := range [][2]vk.ImageLayout{
		{vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutUndefined},
		{vk.ImageLayoutPresentSrc, vk.ImageLayoutGeneral},
		{vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferDstOptimal},
	} {
		_, err := LayoutBarrier(pair[0], pair[1])
		assert.ErrorIs(t, err, ErrUnsupportedTransition)
	}
}

func TestFormatClassification(t *testing.T) {
	assert.True(t, IsDepthFormat(vk.FormatD32Sfloat))
	assert.True(t, IsDepthFormat(vk.FormatD24UnormS8Uint))
	assert.False(t, IsDepthFormat(vk.FormatS8Uint))
	assert.False(t, IsDepthFormat(vk.FormatR8g8b8a8Unorm))

	assert.True(t, HasStencil(vk.FormatD24UnormS8Uint))
	assert.True(t, HasStencil(vk.FormatS8Uint))
	assert.False(t, HasStencil(vk.FormatD32Sfloat))

	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), FormatAspect(vk.FormatB8g8r8a8Unorm))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), FormatAspect(vk.FormatD32Sfloat))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), FormatAspect(vk.FormatD32SfloatS8Uint))
}

func TestFormatSize(t *testing.T) {
	for format, size := range map[vk.Format]uint64{
		vk.FormatR8Unorm:            1,
		vk.FormatR8g8Unorm:          2,
		vk.FormatR8g8b8a8Unorm:      4,
		vk.FormatB8g8r8a8Srgb:       4,
		vk.FormatR32Sfloat:          4,
		vk.FormatR16g16b16a16Sfloat: 8,
		vk.FormatR32g32b32a32Sfloat: 16,
		vk.FormatBc1RgbUnormBlock:   0,
		vk.FormatD32Sfloat:          0,
	} {
		assert.Equal(t, size, FormatSize(format), "format %d", format)
	}
}

func TestLayoutKeptOnlyAfterCompletion(t *testing.T) {
	tex := &Texture{layout: vk.ImageLayoutShaderReadOnlyOptimal}

	err := restoreLayoutOnError(tex, func() error {
		tex.AssumeLayout(vk.ImageLayoutTransferDstOptimal)
		return errors.New("device lost")
	})
	require.Error(t, err)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, tex.Layout())

	err = restoreLayoutOnError(tex, func() error {
		tex.AssumeLayout(vk.ImageLayoutTransferSrcOptimal)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, vk.ImageLayoutTransferSrcOptimal, tex.Layout())
}
