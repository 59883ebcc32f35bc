// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"image"

	"github.com/devblok/vkframe/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
)

// SamplerDesc describes a sampler. The zero value is a nearest
// filtering, repeating sampler without anisotropy.
type SamplerDesc struct {
	MinFilter   vk.Filter
	MagFilter   vk.Filter
	AddressMode vk.SamplerAddressMode
	MipmapMode  vk.SamplerMipmapMode

	// Anisotropy above 1 enables anisotropic filtering,
	// clamped to the adapter limit.
	Anisotropy float32

	// MaxLod of 0 allows every mip level.
	MaxLod float32
}

// Sampler is a standalone vulkan sampler.
type Sampler struct {
	device  vk.Device
	sampler vk.Sampler
}

func (s *Sampler) kind() Kind { return KindSampler }

// Get returns the vulkan sampler handle.
func (s *Sampler) Get() vk.Sampler {
	return s.sampler
}

// Release destroys the sampler.
func (s *Sampler) Release() {
	vk.DestroySampler(s.device, s.sampler, nil)
}

func newSampler(dev *Device, desc SamplerDesc, mipLevels uint32) (vk.Sampler, error) {
	maxLod := desc.MaxLod
	if maxLod == 0 {
		maxLod = float32(mipLevels)
	}

	sci := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               desc.MagFilter,
		MinFilter:               desc.MinFilter,
		MipmapMode:              desc.MipmapMode,
		AddressModeU:            desc.AddressMode,
		AddressModeV:            desc.AddressMode,
		AddressModeW:            desc.AddressMode,
		MaxAnisotropy:           1,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0,
		MaxLod:                  maxLod,
	}
	if desc.Anisotropy > 1 && dev.Adapter().Features.Has(FeatureSamplerAnisotropy) {
		sci.AnisotropyEnable = vk.True
		sci.MaxAnisotropy = desc.Anisotropy
		if limit := dev.Adapter().Limits.MaxSamplerAnisotropy; limit > 0 && sci.MaxAnisotropy > limit {
			sci.MaxAnisotropy = limit
		}
	}

	var sampler vk.Sampler
	if err := vk.Error(vk.CreateSampler(dev.Handle(), &sci, nil, &sampler)); err != nil {
		return sampler, errors.Wrap(err, "vk.CreateSampler()")
	}
	return sampler, nil
}

// CreateSampler creates a standalone sampler.
func (f *Factory) CreateSampler(desc SamplerDesc) (Handle[Sampler], error) {
	sampler, err := newSampler(f.device, desc, 1)
	if err != nil {
		return Handle[Sampler]{}, err
	}
	return insert(f, &Sampler{device: f.device.Handle(), sampler: sampler}), nil
}

// Sampler returns the sampler behind h.
func (f *Factory) Sampler(h Handle[Sampler]) (*Sampler, error) {
	return resolve(f, h)
}

// TextureDesc describes a texture to create.
type TextureDesc struct {
	Extent      gfx.Extent2D
	Format      vk.Format
	MipLevels   uint32
	ArrayLayers uint32
	Usage       vk.ImageUsageFlags

	// Aspect is derived from the format when zero.
	Aspect vk.ImageAspectFlags

	// Data fills the first mip level, MipData fills every level
	// and takes precedence. Both are tightly packed.
	Data    []byte
	MipData [][]byte

	// FinalLayout is the layout the texture is left in after creation.
	// Textures created with data default to shader read only.
	FinalLayout vk.ImageLayout

	// Sampler creates a sampler owned by the texture.
	Sampler *SamplerDesc
}

// Texture is an image, its memory, a view and optionally a sampler.
type Texture struct {
	device  vk.Device
	image   vk.Image
	view    vk.ImageView
	sampler vk.Sampler
	memory  *Memory

	hasSampler bool

	format vk.Format
	extent gfx.Extent2D
	mips   uint32
	layers uint32
	aspect vk.ImageAspectFlags
	usage  vk.ImageUsageFlags
	layout vk.ImageLayout
}

func (t *Texture) kind() Kind { return KindTexture }

// Image returns the vulkan image handle.
func (t *Texture) Image() vk.Image {
	return t.image
}

// View returns the image view covering every level and layer.
func (t *Texture) View() vk.ImageView {
	return t.view
}

// Format returns the pixel format.
func (t *Texture) Format() vk.Format {
	return t.format
}

// Extent returns the size of the first mip level.
func (t *Texture) Extent() gfx.Extent2D {
	return t.extent
}

// MipLevels returns the number of mip levels.
func (t *Texture) MipLevels() uint32 {
	return t.mips
}

// Aspect returns the aspects of the image.
func (t *Texture) Aspect() vk.ImageAspectFlags {
	return t.aspect
}

// Layout returns the layout the texture is in once every
// recorded transition has executed.
func (t *Texture) Layout() vk.ImageLayout {
	return t.layout
}

// Descriptor returns the image info used to write the texture into
// a descriptor set, in its current layout.
func (t *Texture) Descriptor() vk.DescriptorImageInfo {
	return vk.DescriptorImageInfo{
		Sampler:     t.sampler,
		ImageView:   t.view,
		ImageLayout: t.layout,
	}
}

// Transition records a layout transition of every level and layer into
// cmd. Transitions to the current layout record nothing.
func (t *Texture) Transition(cmd vk.CommandBuffer, layout vk.ImageLayout) error {
	if t.layout == layout {
		return nil
	}
	barrier, err := LayoutBarrier(t.layout, layout)
	if err != nil {
		return err
	}
	vk.CmdPipelineBarrier(cmd, barrier.SrcStage, barrier.DstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       barrier.SrcAccess,
		DstAccessMask:       barrier.DstAccess,
		OldLayout:           t.layout,
		NewLayout:           layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               t.image,
		SubresourceRange:    t.subresourceRange(),
	}})
	t.layout = layout
	return nil
}

// AssumeLayout records that something other than Transition, a render
// pass ending for one, left the texture in layout.
func (t *Texture) AssumeLayout(layout vk.ImageLayout) {
	t.layout = layout
}

func (t *Texture) subresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     t.aspect,
		BaseMipLevel:   0,
		LevelCount:     t.mips,
		BaseArrayLayer: 0,
		LayerCount:     t.layers,
	}
}

// Release destroys the sampler, view and image, then frees the memory.
func (t *Texture) Release() {
	if t.hasSampler {
		vk.DestroySampler(t.device, t.sampler, nil)
	}
	vk.DestroyImageView(t.device, t.view, nil)
	vk.DestroyImage(t.device, t.image, nil)
	t.memory.Release()
}

// Barrier holds the access masks and stages of a layout transition.
type Barrier struct {
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
	SrcStage  vk.PipelineStageFlags
	DstStage  vk.PipelineStageFlags
}

type transition struct {
	from, to vk.ImageLayout
}

var transitions = map[transition]Barrier{
	{vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal}: {
		SrcAccess: 0,
		DstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	},
	{vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
	},
	{vk.ImageLayoutUndefined, vk.ImageLayoutColorAttachmentOptimal}: {
		SrcAccess: 0,
		DstAccess: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
	},
	{vk.ImageLayoutUndefined, vk.ImageLayoutDepthStencilAttachmentOptimal}: {
		SrcAccess: 0,
		DstAccess: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
	},
	{vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutTransferSrcOptimal}: {
		SrcAccess: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		DstAccess: vk.AccessFlags(vk.AccessTransferReadBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	},
	{vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: vk.AccessFlags(vk.AccessTransferReadBit),
		DstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
	},
	{vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutTransferDstOptimal}: {
		SrcAccess: vk.AccessFlags(vk.AccessShaderReadBit),
		DstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	},
	{vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutTransferSrcOptimal}: {
		SrcAccess: vk.AccessFlags(vk.AccessShaderReadBit),
		DstAccess: vk.AccessFlags(vk.AccessTransferReadBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	},
	{vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal}: {
		SrcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccess: vk.AccessFlags(vk.AccessTransferReadBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	},
	{vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutColorAttachmentOptimal}: {
		SrcAccess: vk.AccessFlags(vk.AccessTransferReadBit),
		DstAccess: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
	},
	{vk.ImageLayoutUndefined, vk.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: 0,
		DstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
	},
}

// LayoutBarrier returns the barrier masks of a supported layout
// transition, or ErrUnsupportedTransition.
func LayoutBarrier(from, to vk.ImageLayout) (Barrier, error) {
	barrier, ok := transitions[transition{from, to}]
	if !ok {
		return Barrier{}, errors.Wrapf(ErrUnsupportedTransition, "%d -> %d", from, to)
	}
	return barrier, nil
}

// IsDepthFormat reports whether format has a depth component.
func IsDepthFormat(format vk.Format) bool {
	switch format {
	case vk.FormatD16Unorm, vk.FormatX8D24UnormPack32, vk.FormatD32Sfloat,
		vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return true
	}
	return false
}

// HasStencil reports whether format has a stencil component.
func HasStencil(format vk.Format) bool {
	switch format {
	case vk.FormatS8Uint, vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return true
	}
	return false
}

// FormatAspect returns the image aspects of format.
func FormatAspect(format vk.Format) vk.ImageAspectFlags {
	var aspect vk.ImageAspectFlags
	if IsDepthFormat(format) {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if HasStencil(format) {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	if aspect == 0 {
		aspect = vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	return aspect
}

// FormatSize returns bytes per pixel of the uncompressed color
// formats textures are uploaded in, 0 for anything else.
func FormatSize(format vk.Format) uint64 {
	switch format {
	case vk.FormatR8Unorm:
		return 1
	case vk.FormatR8g8Unorm:
		return 2
	case vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb, vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb,
		vk.FormatR32Sfloat, vk.FormatR32Uint:
		return 4
	case vk.FormatR16g16b16a16Sfloat:
		return 8
	case vk.FormatR32g32b32a32Sfloat:
		return 16
	}
	return 0
}

func newTexture(dev *Device, desc TextureDesc) (*Texture, error) {
	if desc.Extent.Empty() {
		return nil, errors.New("texture extent cannot be empty")
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.ArrayLayers == 0 {
		desc.ArrayLayers = 1
	}
	if desc.Aspect == 0 {
		desc.Aspect = FormatAspect(desc.Format)
	}

	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.ArrayLayers,
		Format:        desc.Format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         desc.Usage,
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}

	var img vk.Image
	if err := vk.Error(vk.CreateImage(dev.Handle(), &ici, nil, &img)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateImage()")
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev.Handle(), img, &req)
	req.Deref()

	memory, err := dev.Memory().Malloc(req, MemoryDeviceLocal)
	if err != nil {
		vk.DestroyImage(dev.Handle(), img, nil)
		return nil, err
	}
	if err := vk.Error(vk.BindImageMemory(dev.Handle(), img, memory.Get(), 0)); err != nil {
		vk.DestroyImage(dev.Handle(), img, nil)
		memory.Release()
		return nil, errors.Wrap(err, "vk.BindImageMemory()")
	}

	tex := &Texture{
		device: dev.Handle(),
		image:  img,
		memory: memory,
		format: desc.Format,
		extent: desc.Extent,
		mips:   desc.MipLevels,
		layers: desc.ArrayLayers,
		aspect: desc.Aspect,
		usage:  desc.Usage,
		layout: vk.ImageLayoutUndefined,
	}

	viewType := vk.ImageViewType2d
	if desc.ArrayLayers > 1 {
		viewType = vk.ImageViewType2dArray
	}
	ivci := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            img,
		ViewType:         viewType,
		Format:           desc.Format,
		SubresourceRange: tex.subresourceRange(),
	}
	if err := vk.Error(vk.CreateImageView(dev.Handle(), &ivci, nil, &tex.view)); err != nil {
		vk.DestroyImage(dev.Handle(), img, nil)
		memory.Release()
		return nil, errors.Wrap(err, "vk.CreateImageView()")
	}

	if desc.Sampler != nil {
		sampler, err := newSampler(dev, *desc.Sampler, desc.MipLevels)
		if err != nil {
			vk.DestroyImageView(dev.Handle(), tex.view, nil)
			vk.DestroyImage(dev.Handle(), img, nil)
			memory.Release()
			return nil, err
		}
		tex.sampler = sampler
		tex.hasSampler = true
	}

	return tex, nil
}

// CreateTexture creates a device local texture, uploads its data
// and leaves it in the final layout.
func (f *Factory) CreateTexture(desc TextureDesc) (Handle[Texture], error) {
	mips := desc.MipData
	if len(mips) == 0 && len(desc.Data) > 0 {
		mips = [][]byte{desc.Data}
	}
	if len(mips) > 0 {
		desc.Usage |= vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)
		if desc.FinalLayout == vk.ImageLayoutUndefined {
			desc.FinalLayout = vk.ImageLayoutShaderReadOnlyOptimal
		}
	}
	if desc.MipLevels < uint32(len(mips)) {
		desc.MipLevels = uint32(len(mips))
	}

	tex, err := newTexture(f.device, desc)
	if err != nil {
		return Handle[Texture]{}, err
	}

	switch {
	case len(mips) > 0:
		err = f.uploadToTexture(tex, mips, desc.FinalLayout)
	case desc.FinalLayout != vk.ImageLayoutUndefined:
		err = f.textureShot(f.device.Families().Graphics, tex, func(cmd vk.CommandBuffer) error {
			return tex.Transition(cmd, desc.FinalLayout)
		})
	}
	if err != nil {
		tex.Release()
		return Handle[Texture]{}, err
	}

	return insert(f, tex), nil
}

// CreateTextureFromImage creates a sampled RGBA texture from a decoded
// image. With mipmaps the chain is generated on the CPU.
func (f *Factory) CreateTextureFromImage(img image.Image, mipmaps bool, sampler SamplerDesc) (Handle[Texture], error) {
	bounds := img.Bounds()
	extent := gfx.Extent2D{Width: uint32(bounds.Dx()), Height: uint32(bounds.Dy())}

	levels := uint32(1)
	if mipmaps {
		levels = MipLevels(extent.Width, extent.Height)
		sampler.MipmapMode = vk.SamplerMipmapModeLinear
	}

	return f.CreateTexture(TextureDesc{
		Extent:    extent,
		Format:    vk.FormatR8g8b8a8Unorm,
		MipLevels: levels,
		Usage:     vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		MipData:   GenerateMips(img, levels),
		Sampler:   &sampler,
	})
}

// CreateColorTarget creates a texture to render color into. It can be
// sampled and copied from afterwards.
func (f *Factory) CreateColorTarget(extent gfx.Extent2D, format vk.Format) (Handle[Texture], error) {
	return f.CreateTexture(TextureDesc{
		Extent: extent,
		Format: format,
		Usage: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit |
			vk.ImageUsageSampledBit | vk.ImageUsageTransferSrcBit),
		FinalLayout: vk.ImageLayoutColorAttachmentOptimal,
		Sampler:     &SamplerDesc{AddressMode: vk.SamplerAddressModeClampToEdge},
	})
}

// CreateDepthTarget creates a depth texture in the adapter's preferred
// depth format.
func (f *Factory) CreateDepthTarget(extent gfx.Extent2D) (Handle[Texture], error) {
	format, ok := f.device.Adapter().DepthFormat()
	if !ok {
		return Handle[Texture]{}, errors.New("adapter supports no depth format")
	}
	return f.CreateTexture(TextureDesc{
		Extent:      extent,
		Format:      format,
		Usage:       vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		FinalLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
	})
}

// Texture returns the texture behind h.
func (f *Factory) Texture(h Handle[Texture]) (*Texture, error) {
	return resolve(f, h)
}
