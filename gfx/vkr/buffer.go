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

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Size  uint64
	Usage vk.BufferUsageFlags

	// Memory properties the backing memory must have.
	// Defaults to host visible and coherent.
	Memory vk.MemoryPropertyFlags

	// Data is copied into the buffer after creation, through a mapping
	// for host visible memory and through a staging upload otherwise.
	Data []byte

	// Persistent keeps host visible memory mapped for the
	// lifetime of the buffer.
	Persistent bool
}

// Buffer is a vulkan buffer bound to its own memory.
type Buffer struct {
	device     vk.Device
	buffer     vk.Buffer
	memory     *Memory
	size       uint64
	usage      vk.BufferUsageFlags
	persistent bool
}

func (b *Buffer) kind() Kind { return KindBuffer }

// Get returns the vulkan Buffer handle.
func (b *Buffer) Get() vk.Buffer {
	return b.buffer
}

// Size returns the requested size of the buffer.
func (b *Buffer) Size() uint64 {
	return b.size
}

// Usage returns the usage flags the buffer was created with.
func (b *Buffer) Usage() vk.BufferUsageFlags {
	return b.usage
}

// Mem returns the Memory that the buffer is based on.
func (b *Buffer) Mem() *Memory {
	return b.memory
}

// Write copies data into the buffer at offset. The buffer must be host
// visible; device local buffers return ErrNotMappable.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.size {
		return errors.Errorf("write of %d bytes at %d overflows buffer of %d", len(data), offset, b.size)
	}
	ptr, err := b.memory.Map()
	if err != nil {
		return err
	}
	vk.Memcopy(unsafe.Add(ptr, offset), data)
	if err := b.memory.Flush(); err != nil {
		return err
	}
	if !b.persistent {
		b.memory.Unmap()
	}
	return nil
}

// Read copies n bytes starting at offset out of the buffer.
func (b *Buffer) Read(offset, n uint64) ([]byte, error) {
	if offset+n > b.size {
		return nil, errors.Errorf("read of %d bytes at %d overflows buffer of %d", n, offset, b.size)
	}
	ptr, err := b.memory.Map()
	if err != nil {
		return nil, err
	}
	if err := b.memory.Invalidate(); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Add(ptr, offset)), n))
	if !b.persistent {
		b.memory.Unmap()
	}
	return out, nil
}

// Flush makes writes through a persistent mapping visible to the device.
func (b *Buffer) Flush() error {
	return b.memory.Flush()
}

// Descriptor returns the descriptor info covering the whole buffer.
func (b *Buffer) Descriptor() vk.DescriptorBufferInfo {
	return vk.DescriptorBufferInfo{
		Buffer: b.buffer,
		Offset: 0,
		Range:  vk.DeviceSize(b.size),
	}
}

// Release destroys the buffer and memory asociated with it.
func (b *Buffer) Release() {
	vk.DestroyBuffer(b.device, b.buffer, nil)
	b.memory.Release()
}

// newBuffer creates, configures, allocates and binds a new buffer.
func newBuffer(dev *Device, size uint64, usage vk.BufferUsageFlags, props vk.MemoryPropertyFlags) (*Buffer, error) {
	if size == 0 {
		return nil, errors.New("buffer size cannot be zero")
	}

	families := dev.Families()
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	if families.Transfer != families.Graphics {
		createInfo.SharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{families.Graphics, families.Transfer}
	}

	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(dev.Handle(), &createInfo, nil, &buffer)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateBuffer()")
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev.Handle(), buffer, &req)
	req.Deref()

	memory, err := dev.Memory().Malloc(req, props)
	if err != nil {
		vk.DestroyBuffer(dev.Handle(), buffer, nil)
		return nil, err
	}

	if err := vk.Error(vk.BindBufferMemory(dev.Handle(), buffer, memory.Get(), 0)); err != nil {
		vk.DestroyBuffer(dev.Handle(), buffer, nil)
		memory.Release()
		return nil, errors.Wrap(err, "vk.BindBufferMemory()")
	}

	return &Buffer{
		device: dev.Handle(),
		buffer: buffer,
		memory: memory,
		size:   size,
		usage:  usage,
	}, nil
}

// CreateBuffer creates a buffer and fills it with desc.Data.
func (f *Factory) CreateBuffer(desc BufferDesc) (Handle[Buffer], error) {
	props := desc.Memory
	if props == 0 {
		props = MemoryHostVisible
	}
	usage := desc.Usage
	deviceLocal := props&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) == 0
	if deviceLocal && len(desc.Data) > 0 {
		usage |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}

	buffer, err := newBuffer(f.device, desc.Size, usage, props)
	if err != nil {
		return Handle[Buffer]{}, err
	}
	buffer.persistent = desc.Persistent && buffer.memory.HostVisible()
	if buffer.persistent {
		if _, err := buffer.memory.Map(); err != nil {
			buffer.Release()
			return Handle[Buffer]{}, err
		}
	}

	if len(desc.Data) > 0 {
		if deviceLocal {
			err = f.uploadToBuffer(buffer, 0, desc.Data)
		} else {
			err = buffer.Write(0, desc.Data)
		}
		if err != nil {
			buffer.Release()
			return Handle[Buffer]{}, err
		}
	}

	return insert(f, buffer), nil
}

// Buffer returns the buffer behind h.
func (f *Factory) Buffer(h Handle[Buffer]) (*Buffer, error) {
	return resolve(f, h)
}
