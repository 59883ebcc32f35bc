// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx defines backend independent primitives shared by renderers:
// releasable resources, extents, generation checked handles, deferred
// destruction and blob loaders.
package gfx

// Releasable defines any memory-occupying item that can be freed.
type Releasable interface {

	// Release releases memory occupied by the implementing structure.
	Release()
}

// ReleaseFunc adapts a plain function into a Releasable.
type ReleaseFunc func()

// Release implements Releasable.
func (f ReleaseFunc) Release() {
	if f != nil {
		f()
	}
}

// Extent2D is a width and height pair in pixels.
type Extent2D struct {
	Width, Height uint32
}

// Empty is true when either dimension is zero, which is
// how a minimized window reports itself.
func (e Extent2D) Empty() bool {
	return e.Width == 0 || e.Height == 0
}

// Extent3D is a three dimensional extent.
type Extent3D struct {
	Width, Height, Depth uint32
}

// Flat returns the 2D part of the extent.
func (e Extent3D) Flat() Extent2D {
	return Extent2D{Width: e.Width, Height: e.Height}
}

// Loader describes a blob loading mechanism. Renderers treat
// whatever it returns as opaque bytes.
type Loader interface {

	// Load tries to find and load the blob
	// asociated with the provided id.
	Load(id string) ([]byte, error)
}
