// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"math"

	"github.com/devblok/vkframe/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// undefinedExtent in the current extent lets the application
// pick the swapchain size.
const undefinedExtent = 0xFFFFFFFF

// SurfaceSupport is what a surface supports on an adapter.
type SurfaceSupport struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// QuerySurfaceSupport asks the adapter what the surface supports.
func QuerySurfaceSupport(device vk.PhysicalDevice, surface vk.Surface) (SurfaceSupport, error) {
	var support SurfaceSupport
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(device, surface, &support.Capabilities)); err != nil {
		return support, errors.Wrap(err, "vk.GetPhysicalDeviceSurfaceCapabilities()")
	}
	support.Capabilities.Deref()
	support.Capabilities.CurrentExtent.Deref()
	support.Capabilities.MinImageExtent.Deref()
	support.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, nil)); err != nil {
		return support, errors.Wrap(err, "vk.GetPhysicalDeviceSurfaceFormats(count)")
	}
	support.Formats = make([]vk.SurfaceFormat, formatCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, support.Formats)); err != nil {
		return support, errors.Wrap(err, "vk.GetPhysicalDeviceSurfaceFormats()")
	}
	for idx := range support.Formats {
		support.Formats[idx].Deref()
	}

	var modeCount uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &modeCount, nil)); err != nil {
		return support, errors.Wrap(err, "vk.GetPhysicalDeviceSurfacePresentModes(count)")
	}
	support.PresentModes = make([]vk.PresentMode, modeCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &modeCount, support.PresentModes)); err != nil {
		return support, errors.Wrap(err, "vk.GetPhysicalDeviceSurfacePresentModes()")
	}
	return support, nil
}

// ChooseSurfaceFormat picks 8 bit BGRA UNORM in the sRGB non linear color
// space when available, any format when the surface has no preference,
// and the first format otherwise.
func ChooseSurfaceFormat(formats []vk.SurfaceFormat) (vk.SurfaceFormat, error) {
	preferred := vk.SurfaceFormat{
		Format:     vk.FormatB8g8r8a8Unorm,
		ColorSpace: vk.ColorSpaceSrgbNonlinear,
	}
	if len(formats) == 0 {
		return vk.SurfaceFormat{}, errors.New("surface reports no formats")
	}
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return preferred, nil
	}
	for _, f := range formats {
		if f.Format == preferred.Format && f.ColorSpace == preferred.ColorSpace {
			return f, nil
		}
	}
	return formats[0], nil
}

// ChoosePresentMode picks FIFO when vsync is wanted. Without vsync it
// prefers mailbox, then immediate, then still FIFO which every surface
// supports.
func ChoosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	var immediate bool
	for _, m := range modes {
		switch m {
		case vk.PresentModeMailbox:
			return m
		case vk.PresentModeImmediate:
			immediate = true
		}
	}
	if immediate {
		return vk.PresentModeImmediate
	}
	return vk.PresentModeFifo
}

// ChooseExtent returns the surface extent when the surface dictates it,
// the desired extent clamped to the supported range otherwise.
func ChooseExtent(caps vk.SurfaceCapabilities, desired gfx.Extent2D) gfx.Extent2D {
	if caps.CurrentExtent.Width != undefinedExtent {
		return gfx.Extent2D{
			Width:  caps.CurrentExtent.Width,
			Height: caps.CurrentExtent.Height,
		}
	}
	return gfx.Extent2D{
		Width:  clamp(desired.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(desired.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

func clamp(v, min, max uint32) uint32 {
	if v < min {
		return min
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// ChooseImageCount asks for one image more than the minimum unless a
// count is preferred, keeping within what the surface allows.
// A zero maximum means no limit.
func ChooseImageCount(caps vk.SurfaceCapabilities, preferred uint32) uint32 {
	count := preferred
	if count == 0 {
		count = caps.MinImageCount + 1
	}
	return clamp(count, caps.MinImageCount, caps.MaxImageCount)
}

// ChooseCompositeAlpha picks the first supported mode, opaque first.
func ChooseCompositeAlpha(supported vk.CompositeAlphaFlags) vk.CompositeAlphaFlagBits {
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if supported&vk.CompositeAlphaFlags(flag) != 0 {
			return flag
		}
	}
	return vk.CompositeAlphaOpaqueBit
}

// ChoosePreTransform keeps images untransformed when the surface allows
// it and follows the current transform otherwise.
func ChoosePreTransform(caps vk.SurfaceCapabilities) vk.SurfaceTransformFlagBits {
	if caps.SupportedTransforms&vk.SurfaceTransformFlags(vk.SurfaceTransformIdentityBit) != 0 {
		return vk.SurfaceTransformIdentityBit
	}
	return caps.CurrentTransform
}

// SwapchainOptions is what the swapchain is negotiated from.
type SwapchainOptions struct {
	// Extent is used when the surface lets the application decide.
	Extent gfx.Extent2D

	VSync bool

	// ImageCount is the preferred number of images, minimum plus one when zero.
	ImageCount uint32
}

// Swapchain is the ring of presentable images of a surface, with a view
// for each image.
type Swapchain struct {
	device  *Device
	surface vk.Surface
	opts    SwapchainOptions

	swapchain   vk.Swapchain
	format      vk.SurfaceFormat
	presentMode vk.PresentMode
	extent      gfx.Extent2D
	usage       vk.ImageUsageFlags
	images      []vk.Image
	views       []vk.ImageView
}

// NewSwapchain negotiates and creates a swapchain for surface.
// Failure is fatal.
func NewSwapchain(device *Device, surface vk.Surface, opts SwapchainOptions) (*Swapchain, error) {
	sc := &Swapchain{
		device:  device,
		surface: surface,
		opts:    opts,
	}
	if err := sc.Rebuild(opts.Extent); err != nil {
		return nil, err
	}
	return sc, nil
}

// Rebuild recreates the swapchain at extent, passing the current one as
// the old swapchain. The old images and views are only destroyed once
// the new swapchain exists. The device must not be using them.
func (s *Swapchain) Rebuild(extent gfx.Extent2D) error {
	support, err := QuerySurfaceSupport(s.device.Adapter().PhysicalDevice(), s.surface)
	if err != nil {
		return fatalf(ErrSurface, err, "surface support")
	}
	format, err := ChooseSurfaceFormat(support.Formats)
	if err != nil {
		return fatalf(ErrSurface, err, "surface format")
	}
	caps := support.Capabilities
	s.opts.Extent = extent
	chosen := ChooseExtent(caps, extent)
	if chosen.Empty() {
		return errors.Wrapf(ErrSurfaceStale, "surface extent %dx%d", chosen.Width, chosen.Height)
	}
	mode := ChoosePresentMode(support.PresentModes, s.opts.VSync)

	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	for _, extra := range []vk.ImageUsageFlagBits{vk.ImageUsageTransferSrcBit, vk.ImageUsageTransferDstBit} {
		if caps.SupportedUsageFlags&vk.ImageUsageFlags(extra) != 0 {
			usage |= vk.ImageUsageFlags(extra)
		}
	}

	scci := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.surface,
		MinImageCount:    ChooseImageCount(caps, s.opts.ImageCount),
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      vk.Extent2D{Width: chosen.Width, Height: chosen.Height},
		ImageUsage:       usage,
		PreTransform:     ChoosePreTransform(caps),
		CompositeAlpha:   ChooseCompositeAlpha(caps.SupportedCompositeAlpha),
		PresentMode:      mode,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     s.swapchain,
	}
	families := s.device.Families()
	if !families.Shared() {
		scci.ImageSharingMode = vk.SharingModeConcurrent
		scci.QueueFamilyIndexCount = 2
		scci.PQueueFamilyIndices = []uint32{families.Graphics, families.Present}
	}

	var swapchain vk.Swapchain
	if err := vk.Error(vk.CreateSwapchain(s.device.Handle(), &scci, nil, &swapchain)); err != nil {
		return fatalf(ErrSurface, err, "vk.CreateSwapchain()")
	}

	images, views, err := swapchainViews(s.device.Handle(), swapchain, format.Format)
	if err != nil {
		vk.DestroySwapchain(s.device.Handle(), swapchain, nil)
		return fatalf(ErrSurface, err, "swapchain images")
	}

	s.release()
	s.swapchain = swapchain
	s.format = format
	s.presentMode = mode
	s.extent = chosen
	s.usage = usage
	s.images = images
	s.views = views

	log.WithFields(log.Fields{
		"extent": chosen,
		"images": len(images),
		"format": format.Format,
		"mode":   mode,
	}).Info("swapchain built")
	return nil
}

func swapchainViews(device vk.Device, swapchain vk.Swapchain, format vk.Format) ([]vk.Image, []vk.ImageView, error) {
	var count uint32
	if err := vk.Error(vk.GetSwapchainImages(device, swapchain, &count, nil)); err != nil {
		return nil, nil, errors.Wrap(err, "vk.GetSwapchainImages(count)")
	}
	images := make([]vk.Image, count)
	if err := vk.Error(vk.GetSwapchainImages(device, swapchain, &count, images)); err != nil {
		return nil, nil, errors.Wrap(err, "vk.GetSwapchainImages()")
	}

	views := make([]vk.ImageView, 0, count)
	for idx, image := range images {
		ivci := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    image,
			ViewType: vk.ImageViewType2d,
			Format:   format,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}
		var view vk.ImageView
		if err := vk.Error(vk.CreateImageView(device, &ivci, nil, &view)); err != nil {
			for _, v := range views {
				vk.DestroyImageView(device, v, nil)
			}
			return nil, nil, errors.Wrapf(err, "vk.CreateImageView()[%d]", idx)
		}
		views = append(views, view)
	}
	return images, views, nil
}

// Acquire requests the next image, signaling semaphore once it is ready.
// A swapchain that no longer matches the surface fails with
// ErrSurfaceStale; a suboptimal one still hands out the image.
func (s *Swapchain) Acquire(semaphore vk.Semaphore) (uint32, bool, error) {
	var index uint32
	ret := vk.AcquireNextImage(s.device.Handle(), s.swapchain, math.MaxUint64, semaphore, vk.NullFence, &index)
	switch ret {
	case vk.Success:
		return index, false, nil
	case vk.Suboptimal:
		return index, true, nil
	case vk.ErrorOutOfDate:
		return 0, false, errors.Wrap(ErrSurfaceStale, "vk.AcquireNextImage()")
	}
	return 0, false, errors.Wrap(vk.Error(ret), "vk.AcquireNextImage()")
}

// Present queues image index for presentation once wait is signaled.
// Reports whether the swapchain has become suboptimal; a stale one
// fails with ErrSurfaceStale.
func (s *Swapchain) Present(queue vk.Queue, wait vk.Semaphore, index uint32) (bool, error) {
	pi := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.swapchain},
		PImageIndices:      []uint32{index},
	}
	switch ret := vk.QueuePresent(queue, &pi); ret {
	case vk.Success:
		return false, nil
	case vk.Suboptimal:
		return true, nil
	case vk.ErrorOutOfDate:
		return false, errors.Wrap(ErrSurfaceStale, "vk.QueuePresent()")
	default:
		return false, errors.Wrap(vk.Error(ret), "vk.QueuePresent()")
	}
}

// Get returns the vulkan swapchain handle.
func (s *Swapchain) Get() vk.Swapchain {
	return s.swapchain
}

// Format returns the image format.
func (s *Swapchain) Format() vk.Format {
	return s.format.Format
}

// PresentMode returns the negotiated present mode.
func (s *Swapchain) PresentMode() vk.PresentMode {
	return s.presentMode
}

// Extent returns the size of the images.
func (s *Swapchain) Extent() gfx.Extent2D {
	return s.extent
}

// Usage returns the usage the images were created with.
func (s *Swapchain) Usage() vk.ImageUsageFlags {
	return s.usage
}

// ImageCount returns the number of images in the chain.
func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

// Images returns the presentable images.
func (s *Swapchain) Images() []vk.Image {
	return s.images
}

// Views returns a view for each image.
func (s *Swapchain) Views() []vk.ImageView {
	return s.views
}

func (s *Swapchain) release() {
	for _, view := range s.views {
		vk.DestroyImageView(s.device.Handle(), view, nil)
	}
	s.views = nil
	s.images = nil
	if s.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(s.device.Handle(), s.swapchain, nil)
		s.swapchain = vk.NullSwapchain
	}
}

// Release destroys the views and the swapchain.
func (s *Swapchain) Release() {
	s.release()
}
