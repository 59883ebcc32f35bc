// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"math"
	"time"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
)

// Semaphore orders work between queue submissions.
type Semaphore struct {
	device    vk.Device
	semaphore vk.Semaphore
}

func (s *Semaphore) kind() Kind { return KindSemaphore }

// Get returns the vulkan semaphore handle.
func (s *Semaphore) Get() vk.Semaphore {
	return s.semaphore
}

// Release destroys the semaphore.
func (s *Semaphore) Release() {
	vk.DestroySemaphore(s.device, s.semaphore, nil)
}

// Fence lets the host wait for a queue submission.
type Fence struct {
	device vk.Device
	fence  vk.Fence
}

func (f *Fence) kind() Kind { return KindFence }

// Get returns the vulkan fence handle.
func (f *Fence) Get() vk.Fence {
	return f.fence
}

// Wait blocks until the fence is signaled or timeout passes.
// A negative timeout waits forever.
func (f *Fence) Wait(timeout time.Duration) error {
	var wait uint = math.MaxUint64
	if timeout >= 0 {
		wait = uint(timeout.Nanoseconds())
	}
	ret := vk.WaitForFences(f.device, 1, []vk.Fence{f.fence}, vk.True, wait)
	if ret == vk.Timeout {
		return errors.Errorf("fence not signaled after %s", timeout)
	}
	if err := vk.Error(ret); err != nil {
		return errors.Wrap(err, "vk.WaitForFences()")
	}
	return nil
}

// Signaled reports whether the fence is signaled without blocking.
func (f *Fence) Signaled() bool {
	return vk.GetFenceStatus(f.device, f.fence) == vk.Success
}

// Reset returns the fence to the unsignaled state.
func (f *Fence) Reset() error {
	if err := vk.Error(vk.ResetFences(f.device, 1, []vk.Fence{f.fence})); err != nil {
		return errors.Wrap(err, "vk.ResetFences()")
	}
	return nil
}

// Release destroys the fence.
func (f *Fence) Release() {
	vk.DestroyFence(f.device, f.fence, nil)
}

func newSemaphore(device vk.Device) (*Semaphore, error) {
	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := vk.Error(vk.CreateSemaphore(device, &sci, nil, &semaphore)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateSemaphore()")
	}
	return &Semaphore{device: device, semaphore: semaphore}, nil
}

func newFence(device vk.Device, signaled bool) (*Fence, error) {
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fci.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(device, &fci, nil, &fence)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateFence()")
	}
	return &Fence{device: device, fence: fence}, nil
}

// CreateSemaphore creates a binary semaphore.
func (f *Factory) CreateSemaphore() (Handle[Semaphore], error) {
	s, err := newSemaphore(f.device.Handle())
	if err != nil {
		return Handle[Semaphore]{}, err
	}
	return insert(f, s), nil
}

// CreateFence creates a fence, optionally already signaled so that
// the first wait on it returns immediately.
func (f *Factory) CreateFence(signaled bool) (Handle[Fence], error) {
	fence, err := newFence(f.device.Handle(), signaled)
	if err != nil {
		return Handle[Fence]{}, err
	}
	return insert(f, fence), nil
}

// Semaphore returns the semaphore behind h.
func (f *Factory) Semaphore(h Handle[Semaphore]) (*Semaphore, error) {
	return resolve(f, h)
}

// Fence returns the fence behind h.
func (f *Factory) Fence(h Handle[Fence]) (*Fence, error) {
	return resolve(f, h)
}

// WaitFence blocks until the fence behind h is signaled.
func (f *Factory) WaitFence(h Handle[Fence]) error {
	fence, err := f.Fence(h)
	if err != nil {
		return err
	}
	return fence.Wait(-1)
}

// ResetFence unsignals the fence behind h.
func (f *Factory) ResetFence(h Handle[Fence]) error {
	fence, err := f.Fence(h)
	if err != nil {
		return err
	}
	return fence.Reset()
}
