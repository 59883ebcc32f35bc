// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vkr implements the vulkan renderer: adapter probing, the
// logical device and its queues, the resource factory that owns every
// GPU object, the render pass builder, the swapchain and the frame loop.
package vkr

import (
	"github.com/pkg/errors"
)

// Errors of the fatal class: nothing sensible can continue without them.
var (
	ErrNoSuitableAdapter     = errors.New("no suitable adapter found")
	ErrQueueFamilyUnresolved = errors.New("required queue family could not be resolved")
	ErrDeviceCreation        = errors.New("logical device creation failed")
	ErrSurface               = errors.New("surface or swapchain creation failed")
)

// Errors propagated to the caller, who decides how to degrade.
var (
	ErrNoMemoryType          = errors.New("suitable memory type not found")
	ErrInvalidHandle         = errors.New("invalid or stale handle")
	ErrPoolExhausted         = errors.New("descriptor pool capacity exceeded")
	ErrNotMappable           = errors.New("memory is not host visible")
	ErrUnsupportedTransition = errors.New("unsupported layout transition")
	ErrSurfaceStale          = errors.New("surface is out of date")
)

var fatal = []error{
	ErrNoSuitableAdapter,
	ErrQueueFamilyUnresolved,
	ErrDeviceCreation,
	ErrSurface,
}

// IsFatal reports whether err belongs to the class of errors
// after which the process should terminate.
func IsFatal(err error) bool {
	for _, f := range fatal {
		if errors.Is(err, f) {
			return true
		}
	}
	return false
}

// fatalf marks cause as belonging to the fatal class kind.
func fatalf(kind, cause error, format string, args ...interface{}) error {
	return &classified{
		kind:  kind,
		cause: errors.Wrapf(cause, format, args...),
	}
}

type classified struct {
	kind  error
	cause error
}

func (c *classified) Error() string {
	return c.kind.Error() + ": " + c.cause.Error()
}

func (c *classified) Unwrap() []error {
	return []error{c.kind, c.cause}
}
