// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	vk "github.com/devblok/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBudgetSetOverflow(t *testing.T) {
	budget := newPoolBudget(PoolDesc{
		MaxSets: 2,
		Sizes:   map[vk.DescriptorType]uint32{vk.DescriptorTypeUniformBuffer: 8},
	})
	counts := map[vk.DescriptorType]uint32{vk.DescriptorTypeUniformBuffer: 1}

	require.NoError(t, budget.reserve(counts))
	require.NoError(t, budget.reserve(counts))
	err := budget.reserve(counts)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, uint32(2), budget.sets)
	assert.Equal(t, uint32(2), budget.used[vk.DescriptorTypeUniformBuffer])

	budget.release(counts)
	assert.NoError(t, budget.reserve(counts))
}

func TestPoolBudgetTypeOverflow(t *testing.T) {
	budget := newPoolBudget(PoolDesc{
		MaxSets: 4,
		Sizes: map[vk.DescriptorType]uint32{
			vk.DescriptorTypeUniformBuffer:        2,
			vk.DescriptorTypeCombinedImageSampler: 1,
		},
	})
	textured := map[vk.DescriptorType]uint32{
		vk.DescriptorTypeUniformBuffer:        1,
		vk.DescriptorTypeCombinedImageSampler: 1,
	}
	require.NoError(t, budget.reserve(textured))

	// a failed reservation takes nothing
	assert.ErrorIs(t, budget.reserve(textured), ErrPoolExhausted)
	assert.Equal(t, uint32(1), budget.sets)
	assert.Equal(t, uint32(1), budget.used[vk.DescriptorTypeUniformBuffer])

	assert.ErrorIs(t, budget.reserve(map[vk.DescriptorType]uint32{vk.DescriptorTypeStorageBuffer: 1}), ErrPoolExhausted)
	assert.NoError(t, budget.reserve(map[vk.DescriptorType]uint32{vk.DescriptorTypeUniformBuffer: 1}))
}

func TestPoolBudgetRelease(t *testing.T) {
	budget := newPoolBudget(PoolDesc{
		MaxSets: 1,
		Sizes:   map[vk.DescriptorType]uint32{vk.DescriptorTypeStorageBuffer: 4},
	})
	counts := map[vk.DescriptorType]uint32{vk.DescriptorTypeStorageBuffer: 4}
	for i := 0; i < 3; i++ {
		require.NoError(t, budget.reserve(counts))
		budget.release(counts)
	}
	assert.Zero(t, budget.sets)
	assert.Zero(t, budget.used[vk.DescriptorTypeStorageBuffer])

	// releasing more than reserved saturates at zero
	budget.release(counts)
	assert.Zero(t, budget.sets)
}

func TestDescriptorCounts(t *testing.T) {
	counts := descriptorCounts([]Binding{
		{Binding: 0, Type: vk.DescriptorTypeUniformBuffer, Count: 1},
		{Binding: 1, Type: vk.DescriptorTypeCombinedImageSampler, Count: 2},
		{Binding: 2, Type: vk.DescriptorTypeUniformBuffer, Count: 1},
	})
	assert.Equal(t, uint32(2), counts[vk.DescriptorTypeUniformBuffer])
	assert.Equal(t, uint32(2), counts[vk.DescriptorTypeCombinedImageSampler])
}
