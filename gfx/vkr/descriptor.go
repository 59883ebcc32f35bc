// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"sort"

	"github.com/devblok/vkframe/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
)

// Binding describes one binding of a descriptor set layout.
type Binding struct {
	Binding uint32
	Type    vk.DescriptorType
	Stages  vk.ShaderStageFlags

	// Count of descriptors in the binding, at least one.
	Count uint32
}

// DescriptorSetLayout is a vulkan descriptor set layout and its bindings.
type DescriptorSetLayout struct {
	device   vk.Device
	layout   vk.DescriptorSetLayout
	bindings map[uint32]Binding
	counts   map[vk.DescriptorType]uint32
}

func (l *DescriptorSetLayout) kind() Kind { return KindDescriptorSetLayout }

// Get returns the vulkan layout handle.
func (l *DescriptorSetLayout) Get() vk.DescriptorSetLayout {
	return l.layout
}

// Release destroys the layout.
func (l *DescriptorSetLayout) Release() {
	vk.DestroyDescriptorSetLayout(l.device, l.layout, nil)
}

func descriptorCounts(bindings []Binding) map[vk.DescriptorType]uint32 {
	counts := make(map[vk.DescriptorType]uint32)
	for _, b := range bindings {
		counts[b.Type] += b.Count
	}
	return counts
}

// CreateDescriptorSetLayout creates a set layout out of bindings.
func (f *Factory) CreateDescriptorSetLayout(bindings []Binding) (Handle[DescriptorSetLayout], error) {
	byIndex := make(map[uint32]Binding, len(bindings))
	vkBindings := make([]vk.DescriptorSetLayoutBinding, 0, len(bindings))
	for _, b := range bindings {
		if b.Count == 0 {
			b.Count = 1
		}
		if _, ok := byIndex[b.Binding]; ok {
			return Handle[DescriptorSetLayout]{}, errors.Errorf("binding %d declared twice", b.Binding)
		}
		byIndex[b.Binding] = b
		vkBindings = append(vkBindings, vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.Type,
			DescriptorCount: b.Count,
			StageFlags:      b.Stages,
		})
	}
	normalized := make([]Binding, 0, len(byIndex))
	for _, b := range byIndex {
		normalized = append(normalized, b)
	}

	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	var layout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(f.device.Handle(), &dslci, nil, &layout)); err != nil {
		return Handle[DescriptorSetLayout]{}, errors.Wrap(err, "vk.CreateDescriptorSetLayout()")
	}

	return insert(f, &DescriptorSetLayout{
		device:   f.device.Handle(),
		layout:   layout,
		bindings: byIndex,
		counts:   descriptorCounts(normalized),
	}), nil
}

// DescriptorSetLayout returns the layout behind h.
func (f *Factory) DescriptorSetLayout(h Handle[DescriptorSetLayout]) (*DescriptorSetLayout, error) {
	return resolve(f, h)
}

// PoolDesc describes the capacity of a descriptor pool.
type PoolDesc struct {
	MaxSets uint32
	Sizes   map[vk.DescriptorType]uint32
}

// poolBudget tracks what a pool can still hand out, so exhaustion is
// reported the same way on every driver.
type poolBudget struct {
	maxSets  uint32
	sets     uint32
	capacity map[vk.DescriptorType]uint32
	used     map[vk.DescriptorType]uint32
}

func newPoolBudget(desc PoolDesc) *poolBudget {
	capacity := make(map[vk.DescriptorType]uint32, len(desc.Sizes))
	for t, n := range desc.Sizes {
		capacity[t] = n
	}
	return &poolBudget{
		maxSets:  desc.MaxSets,
		capacity: capacity,
		used:     make(map[vk.DescriptorType]uint32),
	}
}

func (b *poolBudget) reserve(counts map[vk.DescriptorType]uint32) error {
	if b.sets+1 > b.maxSets {
		return errors.Wrapf(ErrPoolExhausted, "%d of %d sets in use", b.sets, b.maxSets)
	}
	for t, n := range counts {
		if b.used[t]+n > b.capacity[t] {
			return errors.Wrapf(ErrPoolExhausted, "descriptor type %d: %d of %d in use, %d requested", t, b.used[t], b.capacity[t], n)
		}
	}
	b.sets++
	for t, n := range counts {
		b.used[t] += n
	}
	return nil
}

func (b *poolBudget) release(counts map[vk.DescriptorType]uint32) {
	if b.sets > 0 {
		b.sets--
	}
	for t, n := range counts {
		if b.used[t] >= n {
			b.used[t] -= n
		} else {
			b.used[t] = 0
		}
	}
}

// DescriptorPool is a descriptor pool with capacity accounting.
type DescriptorPool struct {
	device    vk.Device
	pool      vk.DescriptorPool
	budget    *poolBudget
	sets      []*DescriptorSet
	destroyed bool
}

func (p *DescriptorPool) kind() Kind { return KindDescriptorPool }

// Get returns the vulkan pool handle.
func (p *DescriptorPool) Get() vk.DescriptorPool {
	return p.pool
}

// Allocated returns the number of sets allocated from the pool.
func (p *DescriptorPool) Allocated() uint32 {
	return p.budget.sets
}

// Release destroys the pool and with it every set allocated from it.
func (p *DescriptorPool) Release() {
	p.destroyed = true
	p.sets = nil
	vk.DestroyDescriptorPool(p.device, p.pool, nil)
}

func (p *DescriptorPool) forget(set *DescriptorSet) {
	for idx, s := range p.sets {
		if s == set {
			p.sets = append(p.sets[:idx], p.sets[idx+1:]...)
			return
		}
	}
}

// CreateDescriptorPool creates a pool sets can be allocated from and freed to.
func (f *Factory) CreateDescriptorPool(desc PoolDesc) (Handle[DescriptorPool], error) {
	if desc.MaxSets == 0 {
		return Handle[DescriptorPool]{}, errors.New("descriptor pool needs at least one set")
	}

	types := make([]vk.DescriptorType, 0, len(desc.Sizes))
	for t := range desc.Sizes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	sizes := make([]vk.DescriptorPoolSize, 0, len(types))
	for _, t := range types {
		if desc.Sizes[t] == 0 {
			continue
		}
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            t,
			DescriptorCount: desc.Sizes[t],
		})
	}

	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       desc.MaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(f.device.Handle(), &dpci, nil, &pool)); err != nil {
		return Handle[DescriptorPool]{}, errors.Wrap(err, "vk.CreateDescriptorPool()")
	}

	return insert(f, &DescriptorPool{
		device: f.device.Handle(),
		pool:   pool,
		budget: newPoolBudget(desc),
	}), nil
}

// DescriptorPool returns the pool behind h.
func (f *Factory) DescriptorPool(h Handle[DescriptorPool]) (*DescriptorPool, error) {
	return resolve(f, h)
}

// DescriptorSet is a set allocated from a DescriptorPool. Writes are
// collected and applied together by Update.
type DescriptorSet struct {
	device vk.Device
	set    vk.DescriptorSet
	pool   *DescriptorPool
	layout *DescriptorSetLayout
	handle gfx.Handle

	writes []vk.WriteDescriptorSet
}

func (s *DescriptorSet) kind() Kind { return KindDescriptorSet }

// Get returns the vulkan set handle.
func (s *DescriptorSet) Get() vk.DescriptorSet {
	return s.set
}

// Release frees the set back to its pool, unless the pool is gone.
func (s *DescriptorSet) Release() {
	if s.pool.destroyed {
		return
	}
	vk.FreeDescriptorSets(s.device, s.pool.pool, 1, &s.set)
	s.pool.budget.release(s.layout.counts)
}

func (s *DescriptorSet) binding(binding uint32) (Binding, error) {
	b, ok := s.layout.bindings[binding]
	if !ok {
		return b, errors.Errorf("binding %d is not in the set layout", binding)
	}
	return b, nil
}

// WriteBuffer queues a write of buffers into binding.
func (s *DescriptorSet) WriteBuffer(binding uint32, infos ...vk.DescriptorBufferInfo) error {
	b, err := s.binding(binding)
	if err != nil {
		return err
	}
	s.writes = append(s.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          s.set,
		DstBinding:      binding,
		DescriptorCount: uint32(len(infos)),
		DescriptorType:  b.Type,
		PBufferInfo:     infos,
	})
	return nil
}

// WriteTexture queues a write of images into binding.
func (s *DescriptorSet) WriteTexture(binding uint32, infos ...vk.DescriptorImageInfo) error {
	b, err := s.binding(binding)
	if err != nil {
		return err
	}
	s.writes = append(s.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          s.set,
		DstBinding:      binding,
		DescriptorCount: uint32(len(infos)),
		DescriptorType:  b.Type,
		PImageInfo:      infos,
	})
	return nil
}

// Update applies the queued writes.
func (s *DescriptorSet) Update() {
	if len(s.writes) == 0 {
		return
	}
	vk.UpdateDescriptorSets(s.device, uint32(len(s.writes)), s.writes, 0, nil)
	s.writes = s.writes[:0]
}

// AllocateDescriptorSet allocates a set of layout from pool. A pool that
// cannot hold the set fails with ErrPoolExhausted without asking the driver.
func (f *Factory) AllocateDescriptorSet(pool Handle[DescriptorPool], layout Handle[DescriptorSetLayout]) (Handle[DescriptorSet], error) {
	p, err := f.DescriptorPool(pool)
	if err != nil {
		return Handle[DescriptorSet]{}, err
	}
	l, err := f.DescriptorSetLayout(layout)
	if err != nil {
		return Handle[DescriptorSet]{}, err
	}

	if err := p.budget.reserve(l.counts); err != nil {
		return Handle[DescriptorSet]{}, err
	}

	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{l.layout},
	}
	var set vk.DescriptorSet
	if err := vk.Error(vk.AllocateDescriptorSets(f.device.Handle(), &dsai, &set)); err != nil {
		p.budget.release(l.counts)
		return Handle[DescriptorSet]{}, errors.Wrap(err, "vk.AllocateDescriptorSets()")
	}

	ds := &DescriptorSet{
		device: f.device.Handle(),
		set:    set,
		pool:   p,
		layout: l,
	}
	h := insert(f, ds)
	ds.handle = h.Handle
	p.sets = append(p.sets, ds)
	return h, nil
}

// DescriptorSet returns the set behind h.
func (f *Factory) DescriptorSet(h Handle[DescriptorSet]) (*DescriptorSet, error) {
	return resolve(f, h)
}
