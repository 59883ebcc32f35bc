// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"
	"sort"

	"github.com/devblok/vkframe/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Kind enumerates resource kinds in the order they are torn down.
type Kind int

// Resource kinds, in teardown order.
const (
	KindDescriptorSet Kind = iota
	KindDescriptorPool
	KindPipeline
	KindPipelineLayout
	KindDescriptorSetLayout
	KindShader
	KindFramebuffer
	KindRenderPass
	KindSampler
	KindTexture
	KindBuffer
	KindSemaphore
	KindFence
)

var kindNames = [...]string{
	KindDescriptorSet:       "descriptor set",
	KindDescriptorPool:      "descriptor pool",
	KindPipeline:            "pipeline",
	KindPipelineLayout:      "pipeline layout",
	KindDescriptorSetLayout: "descriptor set layout",
	KindShader:              "shader",
	KindFramebuffer:         "framebuffer",
	KindRenderPass:          "render pass",
	KindSampler:             "sampler",
	KindTexture:             "texture",
	KindBuffer:              "buffer",
	KindSemaphore:           "semaphore",
	KindFence:               "fence",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

type resource interface {
	gfx.Releasable
	kind() Kind
}

// Handle references a resource of type T owned by a Factory.
// The zero Handle is invalid.
type Handle[T any] struct {
	gfx.Handle
}

func (h Handle[T]) raw() gfx.Handle {
	return h.Handle
}

// AnyHandle is satisfied by a Handle of any resource type.
type AnyHandle interface {
	raw() gfx.Handle
}

// Factory creates and owns every GPU resource. Resources are referred to
// by generation checked handles: once a resource is destroyed or retired,
// its handle is rejected with ErrInvalidHandle.
// Factory is not safe for concurrent use.
type Factory struct {
	device *Device
	loader gfx.Loader
	retire *gfx.RetireQueue
	cache  vk.PipelineCache

	resources gfx.Arena[resource]
}

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	// Loader supplies shader blobs.
	Loader gfx.Loader

	// FrameSlots is the number of frames that can be in flight,
	// which is how long retired resources are kept alive.
	FrameSlots int
}

// NewFactory creates a factory allocating on device.
func NewFactory(device *Device, opts FactoryOptions) (*Factory, error) {
	pcci := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	var cache vk.PipelineCache
	if err := vk.Error(vk.CreatePipelineCache(device.Handle(), &pcci, nil, &cache)); err != nil {
		return nil, errors.Wrap(err, "vk.CreatePipelineCache()")
	}

	loader := opts.Loader
	if loader == nil {
		loader = gfx.DirLoader(".")
	}

	return &Factory{
		device: device,
		loader: loader,
		retire: gfx.NewRetireQueue(opts.FrameSlots),
		cache:  cache,
	}, nil
}

// Device returns the device the factory allocates on.
func (f *Factory) Device() *Device {
	return f.device
}

// RetireQueue returns the queue deferred destruction goes through.
func (f *Factory) RetireQueue() *gfx.RetireQueue {
	return f.retire
}

// Len returns the number of live resources.
func (f *Factory) Len() int {
	return f.resources.Len()
}

// Count returns the number of live resources of kind k.
func (f *Factory) Count(k Kind) int {
	var n int
	f.resources.Each(func(_ gfx.Handle, r resource) {
		if r.kind() == k {
			n++
		}
	})
	return n
}

func insert[T any, P interface {
	*T
	resource
}](f *Factory, v P) Handle[T] {
	h := Handle[T]{Handle: f.resources.Insert(v)}
	log.WithFields(log.Fields{
		"kind":   v.kind(),
		"handle": h.Handle,
	}).Debug("resource created")
	return h
}

func resolve[T any](f *Factory, h Handle[T]) (*T, error) {
	r, ok := f.resources.Get(h.Handle)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s", h.Handle)
	}
	v, ok := any(r).(*T)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s is a %s", h.Handle, r.kind())
	}
	return v, nil
}

// Free releases the resource behind h immediately. The caller
// guarantees the GPU is no longer using it.
func (f *Factory) Free(h AnyHandle) error {
	r, ok := f.resources.Remove(h.raw())
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "%s", h.raw())
	}
	for _, dep := range f.detach(r) {
		dep.Release()
	}
	r.Release()
	return nil
}

// Retire invalidates h now and releases the resource once the frame
// slot that is current comes around again, when no command buffer
// recorded in this frame can still reference it.
func (f *Factory) Retire(h AnyHandle) error {
	r, ok := f.resources.Remove(h.raw())
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "%s", h.raw())
	}
	for _, dep := range f.detach(r) {
		f.retire.Retire(dep)
	}
	f.retire.Retire(r)
	return nil
}

// BeginSlot flushes resources retired during the previous use of slot.
// Call it after the slot's fence was observed signaled.
func (f *Factory) BeginSlot(slot int) {
	if n := f.retire.Begin(slot); n > 0 {
		log.WithFields(log.Fields{
			"slot":     slot,
			"released": n,
		}).Debug("retired resources released")
	}
}

// detach unlinks r from resources that track it and removes the
// resources that cannot outlive it, returning those that still
// need releasing.
func (f *Factory) detach(r resource) []resource {
	switch v := r.(type) {
	case *DescriptorSet:
		v.pool.forget(v)
	case *DescriptorPool:
		// sets die with their pool
		for _, set := range v.sets {
			f.resources.Remove(set.handle)
		}
		v.sets = nil
	case *Framebuffer:
		v.pass.forget(v)
	case *RenderPass:
		var deps []resource
		for _, fb := range v.framebuffers {
			if _, ok := f.resources.Remove(fb.handle); ok {
				deps = append(deps, fb)
			}
		}
		v.framebuffers = nil
		return deps
	}
	return nil
}

// Destroy releases every outstanding resource in dependency order and
// then the pipeline cache. The device must be idle.
func (f *Factory) Destroy() {
	f.retire.Drain()

	type entry struct {
		handle gfx.Handle
		res    resource
	}
	var entries []entry
	f.resources.Each(func(h gfx.Handle, r resource) {
		entries = append(entries, entry{h, r})
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].res.kind() < entries[j].res.kind()
	})

	for _, e := range entries {
		if _, ok := f.resources.Remove(e.handle); !ok {
			continue
		}
		for _, dep := range f.detach(e.res) {
			dep.Release()
		}
		e.res.Release()
	}

	vk.DestroyPipelineCache(f.device.Handle(), f.cache, nil)
	log.WithField("released", len(entries)).Debug("factory destroyed")
}
