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

var testMemoryTypes = []MemoryType{
	{Flags: MemoryDeviceLocal, HeapIndex: 0},
	{Flags: MemoryHostVisible, HeapIndex: 1},
	{Flags: MemoryDeviceLocal | MemoryHostVisible, HeapIndex: 0},
	{Flags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit), HeapIndex: 1},
}

func TestFindMemoryType(t *testing.T) {
	idx, err := FindMemoryType(testMemoryTypes, 0xF, MemoryDeviceLocal)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)

	idx, err = FindMemoryType(testMemoryTypes, 0xF, MemoryHostVisible)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), idx)

	// filter excludes the first two types
	idx, err = FindMemoryType(testMemoryTypes, 0xC, MemoryHostVisible)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), idx)

	cached := vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)
	idx, err = FindMemoryType(testMemoryTypes, 0xF, cached)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), idx)
}

func TestFindMemoryTypeNotFound(t *testing.T) {
	_, err := FindMemoryType(testMemoryTypes, 0x1, MemoryHostVisible)
	assert.ErrorIs(t, err, ErrNoMemoryType)
	assert.False(t, IsFatal(err))

	_, err = FindMemoryType(nil, 0xFFFFFFFF, MemoryDeviceLocal)
	assert.ErrorIs(t, err, ErrNoMemoryType)
}
