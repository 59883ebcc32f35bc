// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx_test

import (
	"testing"

	"github.com/devblok/vkframe/gfx"
	"github.com/stretchr/testify/assert"
)

type counter struct {
	released int
}

func (c *counter) Release() {
	c.released++
}

func TestRetireWaitsForSlotToComeAround(t *testing.T) {
	q := gfx.NewRetireQueue(3)
	res := &counter{}

	q.Begin(0)
	q.Retire(res)

	// frames 1 and 2 use other slots
	assert.Equal(t, 0, q.Begin(1))
	assert.Equal(t, 0, q.Begin(2))
	assert.Equal(t, 0, res.released)
	assert.Equal(t, 1, q.Pending())

	// slot 0 fence observed, its bucket goes
	assert.Equal(t, 1, q.Begin(0))
	assert.Equal(t, 1, res.released)
	assert.Equal(t, 0, q.Pending())
}

func TestRetireDrain(t *testing.T) {
	q := gfx.NewRetireQueue(2)
	a, b := &counter{}, &counter{}

	q.Begin(0)
	q.Retire(a)
	q.Begin(1)
	q.Retire(b)
	q.Retire(nil)

	assert.Equal(t, 2, q.Drain())
	assert.Equal(t, 1, a.released)
	assert.Equal(t, 1, b.released)
}

func TestRetireResize(t *testing.T) {
	q := gfx.NewRetireQueue(2)
	res := &counter{}
	q.Retire(res)

	q.Resize(4)
	assert.Equal(t, 1, res.released)
	assert.Equal(t, 4, q.Slots())

	var fn bool
	q.Begin(3)
	q.Retire(gfx.ReleaseFunc(func() { fn = true }))
	q.Begin(7)
	assert.True(t, fn, "slot indices wrap around the slot count")
}
