// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
)

// Common memory property combinations.
const (
	MemoryDeviceLocal = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	MemoryHostVisible = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
)

// Memory defines a usable memory region.
type Memory struct {
	mapped unsafe.Pointer
	size   uint64
	flags  vk.MemoryPropertyFlags
	device vk.Device
	memory vk.DeviceMemory
}

// Size returns the length of assigned memory.
func (m *Memory) Size() uint64 {
	return m.size
}

// Flags returns the property flags of the memory type the memory was
// allocated from.
func (m *Memory) Flags() vk.MemoryPropertyFlags {
	return m.flags
}

// HostVisible reports whether the memory can be mapped.
func (m *Memory) HostVisible() bool {
	return m.flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0
}

// HostCoherent reports whether writes through a mapping
// become visible without flushing.
func (m *Memory) HostCoherent() bool {
	return m.flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0
}

// Get returns the vulkan memory handle.
func (m *Memory) Get() vk.DeviceMemory {
	return m.memory
}

// Map maps the entire memory region and returns a pointer to the mapped
// area. Mapping already mapped memory returns the existing mapping.
func (m *Memory) Map() (unsafe.Pointer, error) {
	if !m.HostVisible() {
		return nil, ErrNotMappable
	}
	if m.mapped != nil {
		return m.mapped, nil
	}
	var memMapped unsafe.Pointer
	if err := vk.Error(vk.MapMemory(m.device, m.memory, 0, vk.DeviceSize(m.size), 0, &memMapped)); err != nil {
		return nil, errors.Wrap(err, "vk.MapMemory()")
	}
	m.mapped = memMapped
	return memMapped, nil
}

// Mapped reports whether the memory is currently mapped.
func (m *Memory) Mapped() bool {
	return m.mapped != nil
}

// Unmap removes the memory mapping if it was mapped.
func (m *Memory) Unmap() {
	if m.mapped != nil {
		vk.UnmapMemory(m.device, m.memory)
		m.mapped = nil
	}
}

// Flush makes host writes to non coherent memory visible to the device.
func (m *Memory) Flush() error {
	if m.mapped == nil || m.HostCoherent() {
		return nil
	}
	ranges := []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: m.memory,
		Offset: 0,
		Size:   vk.DeviceSize(vk.WholeSize),
	}}
	if err := vk.Error(vk.FlushMappedMemoryRanges(m.device, 1, ranges)); err != nil {
		return errors.Wrap(err, "vk.FlushMappedMemoryRanges()")
	}
	return nil
}

// Invalidate makes device writes to non coherent memory visible to the host.
func (m *Memory) Invalidate() error {
	if m.mapped == nil || m.HostCoherent() {
		return nil
	}
	ranges := []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: m.memory,
		Offset: 0,
		Size:   vk.DeviceSize(vk.WholeSize),
	}}
	if err := vk.Error(vk.InvalidateMappedMemoryRanges(m.device, 1, ranges)); err != nil {
		return errors.Wrap(err, "vk.InvalidateMappedMemoryRanges()")
	}
	return nil
}

// Release frees memory after unmapping it if previously mapped.
func (m *Memory) Release() {
	m.Unmap()
	vk.FreeMemory(m.device, m.memory, nil)
}

// NewMemoryAllocator creates a new memory allocator for the logical device,
// choosing memory types out of the adapter's memory type table.
func NewMemoryAllocator(device vk.Device, types []MemoryType) *MemoryAllocator {
	return &MemoryAllocator{
		device: device,
		types:  types,
	}
}

// MemoryAllocator is responsible returning usable
// memory for any resources that may need it.
type MemoryAllocator struct {
	device vk.Device
	types  []MemoryType
}

// Malloc returns a usable memory chunk ready for use.
func (ma *MemoryAllocator) Malloc(req vk.MemoryRequirements, prop vk.MemoryPropertyFlags) (*Memory, error) {
	memTypeIdx, err := FindMemoryType(ma.types, req.MemoryTypeBits, prop)
	if err != nil {
		return nil, err
	}

	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memTypeIdx,
	}

	var memory vk.DeviceMemory
	if err := vk.Error(vk.AllocateMemory(ma.device, &mai, nil, &memory)); err != nil {
		return nil, errors.Wrap(err, "vk.AllocateMemory()")
	}

	return &Memory{
		size:   uint64(req.Size),
		flags:  ma.types[memTypeIdx].Flags,
		device: ma.device,
		memory: memory,
	}, nil
}

// FindMemoryType returns the first memory type allowed by filter
// whose flags contain every flag in prop.
func FindMemoryType(types []MemoryType, filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	for idx := range types {
		if idx >= 32 {
			break
		}
		if filter&(1<<uint(idx)) != 0 && types[idx].Flags&prop == prop {
			return uint32(idx), nil
		}
	}
	return 0, errors.Wrapf(ErrNoMemoryType, "filter %#x, flags %#x", filter, prop)
}
