// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"strings"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Feature names a single device feature bit.
type Feature uint

// Device features the prober knows about.
const (
	FeatureSamplerAnisotropy Feature = iota
	FeatureGeometryShader
	FeatureTessellationShader
	FeatureFillModeNonSolid
	FeatureWideLines
	FeatureLargePoints
	FeatureDepthClamp
	FeatureIndependentBlend
	FeatureMultiDrawIndirect
	FeatureMultiViewport
	FeatureShaderFloat64
	FeatureTextureCompressionBC
)

var featureTable = []struct {
	feature Feature
	name    string
	field   func(*vk.PhysicalDeviceFeatures) *vk.Bool32
}{
	{FeatureSamplerAnisotropy, "samplerAnisotropy", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.SamplerAnisotropy }},
	{FeatureGeometryShader, "geometryShader", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.GeometryShader }},
	{FeatureTessellationShader, "tessellationShader", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.TessellationShader }},
	{FeatureFillModeNonSolid, "fillModeNonSolid", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.FillModeNonSolid }},
	{FeatureWideLines, "wideLines", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.WideLines }},
	{FeatureLargePoints, "largePoints", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.LargePoints }},
	{FeatureDepthClamp, "depthClamp", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.DepthClamp }},
	{FeatureIndependentBlend, "independentBlend", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.IndependentBlend }},
	{FeatureMultiDrawIndirect, "multiDrawIndirect", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.MultiDrawIndirect }},
	{FeatureMultiViewport, "multiViewport", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.MultiViewport }},
	{FeatureShaderFloat64, "shaderFloat64", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.ShaderFloat64 }},
	{FeatureTextureCompressionBC, "textureCompressionBC", func(f *vk.PhysicalDeviceFeatures) *vk.Bool32 { return &f.TextureCompressionBC }},
}

// FeatureSet is a set of device features.
type FeatureSet uint64

// Features builds a set out of individual features.
func Features(features ...Feature) FeatureSet {
	var set FeatureSet
	for _, f := range features {
		set |= 1 << f
	}
	return set
}

// Has reports whether f is in the set.
func (s FeatureSet) Has(f Feature) bool {
	return s&(1<<f) != 0
}

// Contains reports whether every feature of other is in s.
func (s FeatureSet) Contains(other FeatureSet) bool {
	return s&other == other
}

// Missing returns the names of features in want that s lacks.
func (s FeatureSet) Missing(want FeatureSet) []string {
	var missing []string
	for _, entry := range featureTable {
		if want.Has(entry.feature) && !s.Has(entry.feature) {
			missing = append(missing, entry.name)
		}
	}
	return missing
}

// Names returns the names of features in the set.
func (s FeatureSet) Names() []string {
	var names []string
	for _, entry := range featureTable {
		if s.Has(entry.feature) {
			names = append(names, entry.name)
		}
	}
	return names
}

// FeatureSetFrom reads supported features out of vulkan's feature struct.
func FeatureSetFrom(features vk.PhysicalDeviceFeatures) FeatureSet {
	var set FeatureSet
	for _, entry := range featureTable {
		if entry.field(&features).B() {
			set |= 1 << entry.feature
		}
	}
	return set
}

// Vulkan returns the feature struct enabling the features in the set.
func (s FeatureSet) Vulkan() vk.PhysicalDeviceFeatures {
	var features vk.PhysicalDeviceFeatures
	for _, entry := range featureTable {
		if s.Has(entry.feature) {
			*entry.field(&features) = vk.True
		}
	}
	return features
}

// QueueFamily describes a queue family of an adapter.
type QueueFamily struct {
	Index   uint32
	Flags   vk.QueueFlags
	Count   uint32
	Present bool
}

// Graphics reports graphics support.
func (q QueueFamily) Graphics() bool {
	return q.Flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
}

// Compute reports compute support.
func (q QueueFamily) Compute() bool {
	return q.Flags&vk.QueueFlags(vk.QueueComputeBit) != 0
}

// Transfer reports explicit transfer support. Graphics and compute
// families support transfers implicitly.
func (q QueueFamily) Transfer() bool {
	return q.Flags&vk.QueueFlags(vk.QueueTransferBit) != 0
}

// MemoryHeap is one heap of adapter memory.
type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

// MemoryType is one entry of the adapter's memory type table.
type MemoryType struct {
	Flags     vk.MemoryPropertyFlags
	HeapIndex uint32
}

// Limits holds the device limits the layer consults.
type Limits struct {
	MaxImageDimension2D             uint32
	MaxBoundDescriptorSets          uint32
	MaxPushConstantsSize            uint32
	MaxColorAttachments             uint32
	MaxFramebufferWidth             uint32
	MaxFramebufferHeight            uint32
	MaxSamplerAnisotropy            float32
	MinUniformBufferOffsetAlignment uint64
	NonCoherentAtomSize             uint64
}

// AdapterDescriptor is an immutable snapshot of one physical device.
type AdapterDescriptor struct {
	Name          string
	VendorID      uint32
	DeviceID      uint32
	DriverVersion uint32
	APIVersion    uint32
	Type          vk.PhysicalDeviceType

	Heaps         []MemoryHeap
	MemoryTypes   []MemoryType
	QueueFamilies []QueueFamily
	Features      FeatureSet
	Extensions    []string
	Limits        Limits

	// Formats maps probed formats to their optimal tiling features.
	Formats map[vk.Format]vk.FormatFeatureFlags

	device vk.PhysicalDevice
}

// PhysicalDevice returns the vulkan handle the descriptor was taken from.
func (a AdapterDescriptor) PhysicalDevice() vk.PhysicalDevice {
	return a.device
}

// Discrete reports whether the adapter is a discrete GPU.
func (a AdapterDescriptor) Discrete() bool {
	return a.Type == vk.PhysicalDeviceTypeDiscreteGpu
}

// TypeName returns a readable adapter class.
func (a AdapterDescriptor) TypeName() string {
	switch a.Type {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	default:
		return "other"
	}
}

// HasExtension reports whether the adapter supports the named extension.
func (a AdapterDescriptor) HasExtension(name string) bool {
	name = strings.TrimRight(name, "\x00")
	for _, ext := range a.Extensions {
		if ext == name {
			return true
		}
	}
	return false
}

// DeviceLocalMemory sums up the size of all device local heaps.
func (a AdapterDescriptor) DeviceLocalMemory() uint64 {
	var size uint64
	for _, h := range a.Heaps {
		if h.DeviceLocal {
			size += h.Size
		}
	}
	return size
}

// FormatSupports reports whether format supports every feature in want
// with optimal tiling. Formats that were not probed report false.
func (a AdapterDescriptor) FormatSupports(format vk.Format, want vk.FormatFeatureFlags) bool {
	features, ok := a.Formats[format]
	return ok && features&want == want
}

// depthFormatCandidates in order of preference.
var depthFormatCandidates = []vk.Format{
	vk.FormatD32SfloatS8Uint,
	vk.FormatD32Sfloat,
	vk.FormatD24UnormS8Uint,
	vk.FormatD16UnormS8Uint,
	vk.FormatD16Unorm,
}

// probedFormats are queried for tiling features when describing an adapter.
var probedFormats = append([]vk.Format{
	vk.FormatR8g8b8a8Unorm,
	vk.FormatR8g8b8a8Srgb,
	vk.FormatB8g8r8a8Unorm,
	vk.FormatB8g8r8a8Srgb,
	vk.FormatR16g16b16a16Sfloat,
	vk.FormatR32g32b32a32Sfloat,
}, depthFormatCandidates...)

// DepthFormat returns the most precise depth format usable as
// a depth/stencil attachment.
func (a AdapterDescriptor) DepthFormat() (vk.Format, bool) {
	for _, format := range depthFormatCandidates {
		if a.FormatSupports(format, vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)) {
			return format, true
		}
	}
	return vk.FormatUndefined, false
}

// Requirements constrains adapter selection.
type Requirements struct {
	Features   FeatureSet
	Extensions []string

	// Surface requires a present-capable queue family for the
	// surface the adapters were described against.
	Surface bool
}

// Reject returns why adapter does not meet the requirements,
// or an empty string when it does.
func (r Requirements) Reject(adapter AdapterDescriptor) string {
	if missing := adapter.Features.Missing(r.Features); len(missing) > 0 {
		return "missing features: " + strings.Join(missing, ", ")
	}
	for _, ext := range r.Extensions {
		if !adapter.HasExtension(ext) {
			return "missing extension: " + ext
		}
	}

	var graphics, present bool
	for _, family := range adapter.QueueFamilies {
		graphics = graphics || family.Graphics()
		present = present || family.Present
	}
	if !graphics {
		return "no graphics queue family"
	}
	if r.Surface && !present {
		return "no present capable queue family"
	}
	return ""
}

// SelectAdapter picks the adapter to create the device on: the first
// discrete adapter meeting the requirements, else the first adapter that
// meets them at all. Given the same input it always picks the same adapter.
func SelectAdapter(adapters []AdapterDescriptor, req Requirements) (AdapterDescriptor, error) {
	var (
		chosen AdapterDescriptor
		found  bool
	)
	for _, adapter := range adapters {
		if reason := req.Reject(adapter); reason != "" {
			log.WithFields(log.Fields{
				"adapter": adapter.Name,
				"reason":  reason,
			}).Debug("adapter rejected")
			continue
		}
		if adapter.Discrete() {
			return adapter, nil
		}
		if !found {
			chosen, found = adapter, true
		}
	}

	if !found {
		return AdapterDescriptor{}, fatalf(ErrNoSuitableAdapter, errors.Errorf("%d adapters", len(adapters)), "SelectAdapter()")
	}
	return chosen, nil
}

// DescribeAdapter takes a snapshot of a physical device. Present support
// is probed against surface, which may be vk.NullSurface.
func DescribeAdapter(device vk.PhysicalDevice, surface vk.Surface) (AdapterDescriptor, error) {
	desc := AdapterDescriptor{
		device:  device,
		Formats: make(map[vk.Format]vk.FormatFeatureFlags, len(probedFormats)),
	}

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(device, &props)
	props.Deref()
	props.Limits.Deref()
	desc.Name = vk.ToString(props.DeviceName[:])
	desc.VendorID = props.VendorID
	desc.DeviceID = props.DeviceID
	desc.DriverVersion = props.DriverVersion
	desc.APIVersion = props.ApiVersion
	desc.Type = props.DeviceType
	desc.Limits = Limits{
		MaxImageDimension2D:             props.Limits.MaxImageDimension2D,
		MaxBoundDescriptorSets:          props.Limits.MaxBoundDescriptorSets,
		MaxPushConstantsSize:            props.Limits.MaxPushConstantsSize,
		MaxColorAttachments:             props.Limits.MaxColorAttachments,
		MaxFramebufferWidth:             props.Limits.MaxFramebufferWidth,
		MaxFramebufferHeight:            props.Limits.MaxFramebufferHeight,
		MaxSamplerAnisotropy:            props.Limits.MaxSamplerAnisotropy,
		MinUniformBufferOffsetAlignment: uint64(props.Limits.MinUniformBufferOffsetAlignment),
		NonCoherentAtomSize:             uint64(props.Limits.NonCoherentAtomSize),
	}

	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(device, &memProperties)
	memProperties.Deref()
	for idx := uint32(0); idx < memProperties.MemoryHeapCount; idx++ {
		heap := memProperties.MemoryHeaps[idx]
		heap.Deref()
		desc.Heaps = append(desc.Heaps, MemoryHeap{
			Size:        uint64(heap.Size),
			DeviceLocal: heap.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0,
		})
	}
	for idx := uint32(0); idx < memProperties.MemoryTypeCount; idx++ {
		memType := memProperties.MemoryTypes[idx]
		memType.Deref()
		desc.MemoryTypes = append(desc.MemoryTypes, MemoryType{
			Flags:     memType.PropertyFlags,
			HeapIndex: memType.HeapIndex,
		})
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)
	for idx := uint32(0); idx < queueFamilyCount; idx++ {
		queueFamilies[idx].Deref()
		family := QueueFamily{
			Index: idx,
			Flags: queueFamilies[idx].QueueFlags,
			Count: queueFamilies[idx].QueueCount,
		}
		if surface != vk.NullSurface {
			var supportsPresent vk.Bool32
			if err := vk.Error(vk.GetPhysicalDeviceSurfaceSupport(device, idx, surface, &supportsPresent)); err != nil {
				return desc, errors.Wrap(err, "vk.GetPhysicalDeviceSurfaceSupport()")
			}
			family.Present = supportsPresent.B()
		}
		desc.QueueFamilies = append(desc.QueueFamilies, family)
	}

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(device, &features)
	features.Deref()
	desc.Features = FeatureSetFrom(features)

	var numDeviceExtensions uint32
	if err := vk.Error(vk.EnumerateDeviceExtensionProperties(device, "", &numDeviceExtensions, nil)); err != nil {
		return desc, errors.Wrap(err, "vk.EnumerateDeviceExtensionProperties()")
	}
	deviceExt := make([]vk.ExtensionProperties, numDeviceExtensions)
	if err := vk.Error(vk.EnumerateDeviceExtensionProperties(device, "", &numDeviceExtensions, deviceExt)); err != nil {
		return desc, errors.Wrap(err, "vk.EnumerateDeviceExtensionProperties()")
	}
	for _, ext := range deviceExt {
		ext.Deref()
		desc.Extensions = append(desc.Extensions, vk.ToString(ext.ExtensionName[:]))
	}

	for _, format := range probedFormats {
		var formatProps vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device, format, &formatProps)
		formatProps.Deref()
		desc.Formats[format] = formatProps.OptimalTilingFeatures
	}

	return desc, nil
}
