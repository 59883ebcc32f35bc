// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
)

// oneShot records fn into a one-shot command buffer on family,
// submits it and waits for it to finish.
func (f *Factory) oneShot(family uint32, fn func(cmd vk.CommandBuffer) error) error {
	cmd, err := f.device.BeginOneShot(family)
	if err != nil {
		return err
	}
	if err := fn(cmd); err != nil {
		vk.EndCommandBuffer(cmd)
		f.device.FreeCommandBuffers(family, []vk.CommandBuffer{cmd})
		return err
	}
	return f.device.FlushOneShot(family, cmd)
}

// textureShot runs a one-shot buffer recording transitions of tex. The
// layout tex tracks is only kept once the buffer completed.
func (f *Factory) textureShot(family uint32, tex *Texture, fn func(cmd vk.CommandBuffer) error) error {
	return restoreLayoutOnError(tex, func() error {
		return f.oneShot(family, fn)
	})
}

func restoreLayoutOnError(tex *Texture, run func() error) error {
	before := tex.layout
	if err := run(); err != nil {
		tex.layout = before
		return err
	}
	return nil
}

func (f *Factory) newStaging(data []byte) (*Buffer, error) {
	staging, err := newBuffer(f.device, uint64(len(data)), vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), MemoryHostVisible)
	if err != nil {
		return nil, err
	}
	if err := staging.Write(0, data); err != nil {
		staging.Release()
		return nil, err
	}
	return staging, nil
}

func recordBufferCopy(cmd vk.CommandBuffer, src, dst *Buffer, offset uint64, size uint64) {
	vk.CmdCopyBuffer(cmd, src.buffer, dst.buffer, 1, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: vk.DeviceSize(offset),
		Size:      vk.DeviceSize(size),
	}})
}

// recordTextureCopy records copies of every mip level packed
// one after another in src into tex, which must be in transfer dst layout.
func recordTextureCopy(cmd vk.CommandBuffer, src *Buffer, tex *Texture, mips [][]byte) {
	regions := make([]vk.BufferImageCopy, 0, len(mips))
	var offset uint64
	width, height := tex.extent.Width, tex.extent.Height
	for level, mip := range mips {
		regions = append(regions, vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(offset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     tex.aspect,
				MipLevel:       uint32(level),
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageOffset: vk.Offset3D{},
			ImageExtent: vk.Extent3D{
				Width:  width,
				Height: height,
				Depth:  1,
			},
		})
		offset += uint64(len(mip))
		if width > 1 {
			width /= 2
		}
		if height > 1 {
			height /= 2
		}
	}
	vk.CmdCopyBufferToImage(cmd, src.buffer, tex.image, vk.ImageLayoutTransferDstOptimal, uint32(len(regions)), regions)
}

func checkMips(tex *Texture, mips [][]byte) ([]byte, error) {
	if uint32(len(mips)) > tex.mips {
		return nil, errors.Errorf("%d mip levels given for a texture of %d", len(mips), tex.mips)
	}
	pixel := FormatSize(tex.format)
	width, height := uint64(tex.extent.Width), uint64(tex.extent.Height)
	var packed []byte
	for level, mip := range mips {
		if pixel != 0 && uint64(len(mip)) != width*height*pixel {
			return nil, errors.Errorf("mip level %d has %d bytes, expected %d", level, len(mip), width*height*pixel)
		}
		packed = append(packed, mip...)
		if width > 1 {
			width /= 2
		}
		if height > 1 {
			height /= 2
		}
	}
	return packed, nil
}

func (f *Factory) uploadToBuffer(dst *Buffer, offset uint64, data []byte) error {
	if offset+uint64(len(data)) > dst.size {
		return errors.Errorf("upload of %d bytes at %d overflows buffer of %d", len(data), offset, dst.size)
	}
	staging, err := f.newStaging(data)
	if err != nil {
		return err
	}
	defer staging.Release()

	return f.oneShot(f.device.Families().Transfer, func(cmd vk.CommandBuffer) error {
		recordBufferCopy(cmd, staging, dst, offset, uint64(len(data)))
		return nil
	})
}

func (f *Factory) uploadToTexture(tex *Texture, mips [][]byte, final vk.ImageLayout) error {
	packed, err := checkMips(tex, mips)
	if err != nil {
		return err
	}
	staging, err := f.newStaging(packed)
	if err != nil {
		return err
	}
	defer staging.Release()

	return f.textureShot(f.device.Families().Graphics, tex, func(cmd vk.CommandBuffer) error {
		if err := tex.Transition(cmd, vk.ImageLayoutTransferDstOptimal); err != nil {
			return err
		}
		recordTextureCopy(cmd, staging, tex, mips)
		return tex.Transition(cmd, final)
	})
}

// UploadBuffer copies data into a buffer of any memory type through a
// staging buffer and returns once the copy has completed on the GPU.
func (f *Factory) UploadBuffer(h Handle[Buffer], offset uint64, data []byte) error {
	dst, err := f.Buffer(h)
	if err != nil {
		return err
	}
	return f.uploadToBuffer(dst, offset, data)
}

// UploadTexture replaces the mip levels of a texture and returns once the
// copy completed on the GPU. The texture ends up shader read only.
func (f *Factory) UploadTexture(h Handle[Texture], mips ...[]byte) error {
	tex, err := f.Texture(h)
	if err != nil {
		return err
	}
	return f.uploadToTexture(tex, mips, vk.ImageLayoutShaderReadOnlyOptimal)
}

// QueueBufferUpload records a copy of data into the buffer behind h into
// cmd, a command buffer of the graphics family that the caller submits.
// The staging buffer is retired with the current frame slot.
func (f *Factory) QueueBufferUpload(cmd vk.CommandBuffer, h Handle[Buffer], offset uint64, data []byte) error {
	dst, err := f.Buffer(h)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > dst.size {
		return errors.Errorf("upload of %d bytes at %d overflows buffer of %d", len(data), offset, dst.size)
	}
	staging, err := f.newStaging(data)
	if err != nil {
		return err
	}
	recordBufferCopy(cmd, staging, dst, offset, uint64(len(data)))
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageVertexInputBit|vk.PipelineStageVertexShaderBit|vk.PipelineStageFragmentShaderBit),
		0, 1, []vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessVertexAttributeReadBit | vk.AccessIndexReadBit | vk.AccessUniformReadBit | vk.AccessShaderReadBit),
		}}, 0, nil, 0, nil)
	f.retire.Retire(staging)
	return nil
}

// QueueTextureUpload records an upload of mips into the texture behind h
// into cmd, leaving it shader read only once cmd executes. The staging
// buffer is retired with the current frame slot.
func (f *Factory) QueueTextureUpload(cmd vk.CommandBuffer, h Handle[Texture], mips ...[]byte) error {
	tex, err := f.Texture(h)
	if err != nil {
		return err
	}
	packed, err := checkMips(tex, mips)
	if err != nil {
		return err
	}
	staging, err := f.newStaging(packed)
	if err != nil {
		return err
	}
	if err := tex.Transition(cmd, vk.ImageLayoutTransferDstOptimal); err != nil {
		staging.Release()
		return err
	}
	recordTextureCopy(cmd, staging, tex, mips)
	f.retire.Retire(staging)
	return tex.Transition(cmd, vk.ImageLayoutShaderReadOnlyOptimal)
}

// ReadTexture copies the first mip level of a texture back to the host,
// blocking until the copy is done. The texture must have been created
// with transfer source usage; it is returned to its previous layout.
func (f *Factory) ReadTexture(h Handle[Texture]) ([]byte, error) {
	tex, err := f.Texture(h)
	if err != nil {
		return nil, err
	}
	if tex.usage&vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit) == 0 {
		return nil, errors.New("texture was not created as a transfer source")
	}
	pixel := FormatSize(tex.format)
	if pixel == 0 {
		return nil, errors.Errorf("format %d cannot be read back", tex.format)
	}
	size := uint64(tex.extent.Width) * uint64(tex.extent.Height) * pixel

	readback, err := newBuffer(f.device, size, vk.BufferUsageFlags(vk.BufferUsageTransferDstBit), MemoryHostVisible)
	if err != nil {
		return nil, err
	}
	defer readback.Release()

	previous := tex.layout
	err = f.textureShot(f.device.Families().Graphics, tex, func(cmd vk.CommandBuffer) error {
		if err := tex.Transition(cmd, vk.ImageLayoutTransferSrcOptimal); err != nil {
			return err
		}
		vk.CmdCopyImageToBuffer(cmd, tex.image, vk.ImageLayoutTransferSrcOptimal, readback.buffer, 1, []vk.BufferImageCopy{{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: tex.aspect,
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{
				Width:  tex.extent.Width,
				Height: tex.extent.Height,
				Depth:  1,
			},
		}})
		if previous == vk.ImageLayoutUndefined {
			return nil
		}
		return tex.Transition(cmd, previous)
	})
	if err != nil {
		return nil, err
	}
	return readback.Read(0, size)
}
