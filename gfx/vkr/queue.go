// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"sort"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
)

// Unresolved marks a queue role no family could be found for.
const Unresolved = ^uint32(0)

// PresentPolicy decides which family presents when more than one can.
type PresentPolicy int

const (
	// PreferSharedPresent presents on the graphics family whenever it
	// is able to, so a single queue serves both roles.
	PreferSharedPresent PresentPolicy = iota

	// PreferSeparatePresent picks a present capable family other than
	// graphics when one exists.
	PreferSeparatePresent
)

// ParsePresentPolicy reads the configuration spelling of a policy.
func ParsePresentPolicy(s string) (PresentPolicy, error) {
	switch s {
	case "", "shared":
		return PreferSharedPresent, nil
	case "separate":
		return PreferSeparatePresent, nil
	}
	return PreferSharedPresent, errors.Errorf("unknown present policy %q", s)
}

func (p PresentPolicy) String() string {
	if p == PreferSeparatePresent {
		return "separate"
	}
	return "shared"
}

// QueueFamilyIndices holds the family serving each queue role.
type QueueFamilyIndices struct {
	Graphics uint32
	Present  uint32
	Compute  uint32
	Transfer uint32
}

// Shared reports whether graphics and present use the same family.
func (q QueueFamilyIndices) Shared() bool {
	return q.Graphics == q.Present
}

// Distinct returns the resolved families, each once, in ascending order.
func (q QueueFamilyIndices) Distinct() []uint32 {
	seen := make(map[uint32]struct{}, 4)
	var families []uint32
	for _, idx := range []uint32{q.Graphics, q.Present, q.Compute, q.Transfer} {
		if idx == Unresolved {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		families = append(families, idx)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return families
}

// ResolveQueueFamilies assigns a family to every queue role. present
// tells whether a present family is required.
func ResolveQueueFamilies(adapter AdapterDescriptor, policy PresentPolicy, present bool) (QueueFamilyIndices, error) {
	indices := QueueFamilyIndices{
		Graphics: Unresolved,
		Present:  Unresolved,
		Compute:  Unresolved,
		Transfer: Unresolved,
	}
	families := adapter.QueueFamilies

	for _, family := range families {
		if family.Graphics() && family.Count > 0 {
			indices.Graphics = family.Index
			break
		}
	}
	if indices.Graphics == Unresolved {
		return indices, fatalf(ErrQueueFamilyUnresolved, errors.New("graphics"), "%s", adapter.Name)
	}

	var graphicsPresents bool
	for _, family := range families {
		if family.Index == indices.Graphics {
			graphicsPresents = family.Present
		}
	}
	switch {
	case policy == PreferSharedPresent && graphicsPresents:
		indices.Present = indices.Graphics
	default:
		for _, family := range families {
			if family.Present && family.Index != indices.Graphics {
				indices.Present = family.Index
				break
			}
		}
		if indices.Present == Unresolved && graphicsPresents {
			indices.Present = indices.Graphics
		}
	}
	if present && indices.Present == Unresolved {
		return indices, fatalf(ErrQueueFamilyUnresolved, errors.New("present"), "%s", adapter.Name)
	}

	indices.Compute = indices.Graphics
	for _, family := range families {
		if family.Compute() && !family.Graphics() {
			indices.Compute = family.Index
			break
		}
	}

	indices.Transfer = indices.Graphics
	for _, family := range families {
		if family.Transfer() && !family.Graphics() && !family.Compute() {
			indices.Transfer = family.Index
			break
		}
	}

	return indices, nil
}

var defaultQueuePriorities = []float32{1.0}

// QueueCreateInfos returns one create info per distinct family, so
// aliased roles never request the same family twice.
func QueueCreateInfos(indices QueueFamilyIndices) []vk.DeviceQueueCreateInfo {
	families := indices.Distinct()
	infos := make([]vk.DeviceQueueCreateInfo, 0, len(families))
	for _, family := range families {
		infos = append(infos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       uint32(len(defaultQueuePriorities)),
			PQueuePriorities: defaultQueuePriorities,
		})
	}
	return infos
}
