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

func familiesOf(infos []vk.DeviceQueueCreateInfo) []uint32 {
	var families []uint32
	for _, info := range infos {
		families = append(families, info.QueueFamilyIndex)
	}
	return families
}

func TestQueueCreateInfosAliasedPresent(t *testing.T) {
	adapter := AdapterDescriptor{
		QueueFamilies: []QueueFamily{
			{Index: 0, Flags: graphicsFlags, Count: 16, Present: true},
		},
	}
	indices, err := ResolveQueueFamilies(adapter, PreferSharedPresent, true)
	require.NoError(t, err)
	assert.True(t, indices.Shared())
	assert.Equal(t, QueueFamilyIndices{}, indices)

	infos := QueueCreateInfos(indices)
	require.Len(t, infos, 1)
	assert.Equal(t, uint32(0), infos[0].QueueFamilyIndex)
	assert.Equal(t, uint32(1), infos[0].QueueCount)
}

func TestResolveQueueFamiliesDedicated(t *testing.T) {
	adapter := AdapterDescriptor{
		QueueFamilies: []QueueFamily{
			{Index: 0, Flags: graphicsFlags, Count: 16, Present: true},
			{Index: 1, Flags: transferFlags, Count: 2},
			{Index: 2, Flags: computeFlags, Count: 8, Present: true},
		},
	}

	indices, err := ResolveQueueFamilies(adapter, PreferSharedPresent, true)
	require.NoError(t, err)
	assert.Equal(t, QueueFamilyIndices{Graphics: 0, Present: 0, Compute: 2, Transfer: 1}, indices)
	assert.Equal(t, []uint32{0, 1, 2}, familiesOf(QueueCreateInfos(indices)))

	indices, err = ResolveQueueFamilies(adapter, PreferSeparatePresent, true)
	require.NoError(t, err)
	assert.False(t, indices.Shared())
	assert.Equal(t, uint32(2), indices.Present)
	assert.Equal(t, []uint32{0, 1, 2}, indices.Distinct())
}

func TestResolveQueueFamiliesSeparateFallsBackToGraphics(t *testing.T) {
	adapter := AdapterDescriptor{
		QueueFamilies: []QueueFamily{
			{Index: 0, Flags: graphicsFlags, Count: 1, Present: true},
			{Index: 1, Flags: computeFlags, Count: 1},
		},
	}
	indices, err := ResolveQueueFamilies(adapter, PreferSeparatePresent, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), indices.Present)
	assert.Equal(t, uint32(0), indices.Transfer)
	assert.Len(t, QueueCreateInfos(indices), 2)
}

func TestResolveQueueFamiliesPresentElsewhere(t *testing.T) {
	adapter := AdapterDescriptor{
		QueueFamilies: []QueueFamily{
			{Index: 0, Flags: graphicsFlags, Count: 1},
			{Index: 1, Flags: transferFlags, Count: 1, Present: true},
		},
	}
	indices, err := ResolveQueueFamilies(adapter, PreferSharedPresent, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), indices.Present)
	assert.False(t, indices.Shared())
}

func TestResolveQueueFamiliesUnresolved(t *testing.T) {
	noGraphics := AdapterDescriptor{
		QueueFamilies: []QueueFamily{{Index: 0, Flags: computeFlags, Count: 1, Present: true}},
	}
	_, err := ResolveQueueFamilies(noGraphics, PreferSharedPresent, false)
	assert.ErrorIs(t, err, ErrQueueFamilyUnresolved)
	assert.True(t, IsFatal(err))

	noPresent := AdapterDescriptor{
		QueueFamilies: []QueueFamily{{Index: 0, Flags: graphicsFlags, Count: 1}},
	}
	_, err = ResolveQueueFamilies(noPresent, PreferSharedPresent, true)
	assert.ErrorIs(t, err, ErrQueueFamilyUnresolved)

	indices, err := ResolveQueueFamilies(noPresent, PreferSharedPresent, false)
	require.NoError(t, err)
	assert.Equal(t, Unresolved, indices.Present)
	assert.Equal(t, []uint32{0}, indices.Distinct())
}

func TestParsePresentPolicy(t *testing.T) {
	for in, want := range map[string]PresentPolicy{
		"":         PreferSharedPresent,
		"shared":   PreferSharedPresent,
		"separate": PreferSeparatePresent,
	} {
		got, err := ParsePresentPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePresentPolicy("both")
	assert.Error(t, err)
	assert.Equal(t, "separate", PreferSeparatePresent.String())
}
