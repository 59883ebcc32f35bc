// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import "fmt"

// Handle is an opaque reference into an Arena. The zero Handle is never
// issued, so it doubles as the invalid handle returned on failure.
type Handle struct {
	index      uint32
	generation uint32
}

// Valid reports whether the handle was ever issued by an arena.
// It does not mean the referenced value is still alive.
func (h Handle) Valid() bool {
	return h.generation != 0
}

// Index returns the slot index of the handle.
func (h Handle) Index() uint32 {
	return h.index
}

// Generation returns the slot generation the handle was issued for.
func (h Handle) Generation() uint32 {
	return h.generation
}

func (h Handle) String() string {
	if !h.Valid() {
		return "handle(invalid)"
	}
	return fmt.Sprintf("handle(%d:%d)", h.index, h.generation)
}

type slot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena stores values in a slot array and hands out generation checked
// handles for them. Removing a value bumps the slot generation, so stale
// handles are rejected instead of aliasing whatever reuses the slot.
// Arena is not safe for concurrent use.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}

	s := &a.slots[idx]
	s.generation++
	if s.generation == 0 {
		// wrapped around, generation 0 is reserved for the invalid handle
		s.generation = 1
	}
	s.value = v
	s.live = true
	a.live++

	return Handle{index: idx, generation: s.generation}
}

// Get returns the value behind h, if h still refers to a live value.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T
	if !a.alive(h) {
		return zero, false
	}
	return a.slots[h.index].value, true
}

// Remove deletes the value behind h and returns it.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	var zero T
	if !a.alive(h) {
		return zero, false
	}

	s := &a.slots[h.index]
	v := s.value
	s.value = zero
	s.live = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	a.free = append(a.free, h.index)
	a.live--

	return v, true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	return a.live
}

// Each calls fn for every live value in slot order.
func (a *Arena[T]) Each(fn func(Handle, T)) {
	for idx := range a.slots {
		s := &a.slots[idx]
		if s.live {
			fn(Handle{index: uint32(idx), generation: s.generation}, s.value)
		}
	}
}

// Handles returns the handles of every live value in slot order.
func (a *Arena[T]) Handles() []Handle {
	handles := make([]Handle, 0, a.live)
	a.Each(func(h Handle, _ T) {
		handles = append(handles, h)
	})
	return handles
}

func (a *Arena[T]) alive(h Handle) bool {
	if !h.Valid() || int(h.index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.index]
	return s.live && s.generation == h.generation
}
