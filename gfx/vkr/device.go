// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"math"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DeviceOptions configures logical device creation.
type DeviceOptions struct {
	Features      FeatureSet
	Extensions    []string
	PresentPolicy PresentPolicy

	// Surface requires a present family to be resolved.
	Surface bool
}

// Device is the logical device, its queues and per family command pools.
// It is not safe for concurrent use.
type Device struct {
	adapter  AdapterDescriptor
	device   vk.Device
	families QueueFamilyIndices
	queues   map[uint32]vk.Queue

	memory *MemoryAllocator

	pools map[uint32]vk.CommandPool
}

// CreateDevice creates the logical device on adapter. Queue roles that
// resolve to the same family share one queue.
func CreateDevice(adapter AdapterDescriptor, opts DeviceOptions) (*Device, error) {
	families, err := ResolveQueueFamilies(adapter, opts.PresentPolicy, opts.Surface)
	if err != nil {
		return nil, err
	}

	for _, ext := range opts.Extensions {
		if !adapter.HasExtension(ext) {
			return nil, fatalf(ErrDeviceCreation, errors.New("missing extension"), "%s", ext)
		}
	}

	queueInfos := QueueCreateInfos(families)
	features := opts.Features.Vulkan()
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(opts.Extensions)),
		PpEnabledExtensionNames: safeStrings(opts.Extensions),
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
	}

	var device vk.Device
	if err := vk.Error(vk.CreateDevice(adapter.PhysicalDevice(), &dci, nil, &device)); err != nil {
		return nil, fatalf(ErrDeviceCreation, err, "vk.CreateDevice()")
	}

	queues := make(map[uint32]vk.Queue, len(queueInfos))
	for _, info := range queueInfos {
		var queue vk.Queue
		vk.GetDeviceQueue(device, info.QueueFamilyIndex, 0, &queue)
		queues[info.QueueFamilyIndex] = queue
	}

	log.WithFields(log.Fields{
		"adapter":  adapter.Name,
		"graphics": families.Graphics,
		"present":  families.Present,
		"compute":  families.Compute,
		"transfer": families.Transfer,
		"queues":   len(queueInfos),
	}).Info("logical device created")

	return &Device{
		adapter:  adapter,
		device:   device,
		families: families,
		queues:   queues,
		memory:   NewMemoryAllocator(device, adapter.MemoryTypes),
		pools:    make(map[uint32]vk.CommandPool),
	}, nil
}

// Handle returns the vulkan device.
func (d *Device) Handle() vk.Device {
	return d.device
}

// Adapter returns the descriptor of the adapter the device runs on.
func (d *Device) Adapter() AdapterDescriptor {
	return d.adapter
}

// Families returns the resolved queue families.
func (d *Device) Families() QueueFamilyIndices {
	return d.families
}

// Memory returns the device memory allocator.
func (d *Device) Memory() *MemoryAllocator {
	return d.memory
}

// Queue returns the queue of family, or nil when the family
// was not requested at device creation.
func (d *Device) Queue(family uint32) vk.Queue {
	return d.queues[family]
}

// GraphicsQueue returns the queue of the graphics family.
func (d *Device) GraphicsQueue() vk.Queue {
	return d.queues[d.families.Graphics]
}

// PresentQueue returns the queue of the present family. It is the
// graphics queue when the two are shared.
func (d *Device) PresentQueue() vk.Queue {
	return d.queues[d.families.Present]
}

// CommandPool returns the command pool of family, creating it on first use.
func (d *Device) CommandPool(family uint32) (vk.CommandPool, error) {
	if pool, ok := d.pools[family]; ok {
		return pool, nil
	}
	if _, ok := d.queues[family]; !ok {
		return vk.NullCommandPool, errors.Errorf("queue family %d was not requested", family)
	}

	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: family,
	}
	var pool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(d.device, &cpci, nil, &pool)); err != nil {
		return vk.NullCommandPool, errors.Wrap(err, "vk.CreateCommandPool()")
	}
	d.pools[family] = pool

	log.WithField("family", family).Debug("command pool created")
	return pool, nil
}

// CommandPools returns the number of command pools created so far.
func (d *Device) CommandPools() int {
	return len(d.pools)
}

// AllocateCommandBuffers allocates n command buffers from the pool of family.
func (d *Device) AllocateCommandBuffers(family uint32, level vk.CommandBufferLevel, n int) ([]vk.CommandBuffer, error) {
	pool, err := d.CommandPool(family)
	if err != nil {
		return nil, err
	}

	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              level,
		CommandBufferCount: uint32(n),
	}
	buffers := make([]vk.CommandBuffer, n)
	if err := vk.Error(vk.AllocateCommandBuffers(d.device, &cbai, buffers)); err != nil {
		return nil, errors.Wrap(err, "vk.AllocateCommandBuffers()")
	}
	return buffers, nil
}

// FreeCommandBuffers returns buffers to the pool of family.
func (d *Device) FreeCommandBuffers(family uint32, buffers []vk.CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	pool, ok := d.pools[family]
	if !ok {
		return
	}
	vk.FreeCommandBuffers(d.device, pool, uint32(len(buffers)), buffers)
}

// BeginOneShot allocates a primary command buffer on family
// and begins recording it for a single submission.
func (d *Device) BeginOneShot(family uint32) (vk.CommandBuffer, error) {
	buffers, err := d.AllocateCommandBuffers(family, vk.CommandBufferLevelPrimary, 1)
	if err != nil {
		return nil, err
	}

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(buffers[0], &cbbi)); err != nil {
		d.FreeCommandBuffers(family, buffers)
		return nil, errors.Wrap(err, "vk.BeginCommandBuffer()")
	}
	return buffers[0], nil
}

// FlushOneShot ends cmd, submits it to the queue of family and blocks
// until the GPU finished executing it. The buffer is freed either way.
func (d *Device) FlushOneShot(family uint32, cmd vk.CommandBuffer) error {
	defer d.FreeCommandBuffers(family, []vk.CommandBuffer{cmd})

	if err := vk.Error(vk.EndCommandBuffer(cmd)); err != nil {
		return errors.Wrap(err, "vk.EndCommandBuffer()")
	}

	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(d.device, &fci, nil, &fence)); err != nil {
		return errors.Wrap(err, "vk.CreateFence()")
	}
	defer vk.DestroyFence(d.device, fence, nil)

	submit := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd},
	}}
	if err := vk.Error(vk.QueueSubmit(d.queues[family], 1, submit, fence)); err != nil {
		return errors.Wrap(err, "vk.QueueSubmit()")
	}
	if err := vk.Error(vk.WaitForFences(d.device, 1, []vk.Fence{fence}, vk.True, math.MaxUint64)); err != nil {
		return errors.Wrap(err, "vk.WaitForFences()")
	}
	return nil
}

// WaitIdle blocks until the device finished all submitted work.
func (d *Device) WaitIdle() error {
	if err := vk.Error(vk.DeviceWaitIdle(d.device)); err != nil {
		return errors.Wrap(err, "vk.DeviceWaitIdle()")
	}
	return nil
}

// Destroy destroys the command pools, then the device. Everything
// created from the device must be gone by then.
func (d *Device) Destroy() {
	for family, pool := range d.pools {
		vk.DestroyCommandPool(d.device, pool, nil)
		delete(d.pools, family)
	}

	vk.DestroyDevice(d.device, nil)
	d.device = nil
}
