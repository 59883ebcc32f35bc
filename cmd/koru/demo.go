// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"math"
	"time"
	"unsafe"

	"github.com/devblok/vkframe/gfx"
	"github.com/devblok/vkframe/gfx/vkr"
	vk "github.com/devblok/vulkan"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// vertex is laid out the way triangle.vert.wgsl reads it.
type vertex struct {
	Position mgl32.Vec2
	Color    mgl32.Vec3
}

const vertexStride = uint32(unsafe.Sizeof(vertex{}))

var (
	triangleShaders = []vkr.ShaderDesc{
		{Path: "triangle.vert.wgsl"},
		{Path: "triangle.frag.wgsl"},
	}

	vertexBindings = []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    vertexStride,
		InputRate: vk.VertexInputRateVertex,
	}}
	vertexAttributes = []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: 0},
		{Location: 1, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 8},
	}

	triangle = [3]vertex{
		{Position: mgl32.Vec2{0, -0.6}, Color: mgl32.Vec3{1, 0.2, 0.2}},
		{Position: mgl32.Vec2{0.52, 0.3}, Color: mgl32.Vec3{0.2, 1, 0.2}},
		{Position: mgl32.Vec2{-0.52, 0.3}, Color: mgl32.Vec3{0.2, 0.2, 1}},
	}
)

// demo clears the screen to a slowly shifting color and spins a
// triangle on top when its shaders can be found.
type demo struct {
	options map[string]string
	start   time.Time

	factory  *vkr.Factory
	pipeline vkr.Handle[vkr.Pipeline]

	// one vertex buffer per frame slot, written once the slot's
	// previous frame completed
	vertices []vkr.Handle[vkr.Buffer]

	extent gfx.Extent2D
	aspect float32
}

func newDemo(options map[string]string) *demo {
	return &demo{
		options: options,
		start:   time.Now(),
		aspect:  1,
	}
}

// Prepare implements vkr.Application.
func (d *demo) Prepare(ctx vkr.SetupContext) error {
	d.factory = ctx.Factory
	d.extent = ctx.Extent

	shaders, err := ctx.Factory.LoadShaders(triangleShaders...)
	if errors.Cause(err) == gfx.ErrNotFound {
		log.WithError(err).Warn("triangle shaders not found, clearing only")
		return nil
	}
	if err != nil {
		return err
	}
	// modules are not needed once the pipeline exists
	defer func() {
		for _, s := range shaders {
			ctx.Factory.Free(s)
		}
	}()

	d.pipeline, err = vkr.NewPipelineBuilder(ctx.Pass).
		Shaders(shaders...).
		Vertex(vertexBindings, vertexAttributes).
		Cull(vk.CullModeFlags(vk.CullModeNone)).
		Depth(false, false).
		Options(d.options).
		Build(ctx.Factory)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"options": d.options,
		"slots":   ctx.Slots,
	}).Info("demo prepared")
	return nil
}

func (d *demo) vertexBuffer(slot int) (*vkr.Buffer, error) {
	for len(d.vertices) <= slot {
		h, err := d.factory.CreateBuffer(vkr.BufferDesc{
			Size:       uint64(len(triangle)) * uint64(vertexStride),
			Usage:      vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit),
			Persistent: true,
		})
		if err != nil {
			return nil, err
		}
		d.vertices = append(d.vertices, h)
	}
	return d.factory.Buffer(d.vertices[slot])
}

func (d *demo) clearColor(t float64) mgl32.Vec4 {
	return mgl32.Vec4{
		float32(0.15 + 0.1*math.Sin(t*0.7)),
		float32(0.12 + 0.08*math.Sin(t*0.5+2)),
		float32(0.25 + 0.1*math.Cos(t*0.3)),
		1,
	}
}

func (d *demo) spin(angle float32) []byte {
	rotation := mgl32.Rotate2D(angle)
	var out [3]vertex
	for idx, v := range triangle {
		p := rotation.Mul2x1(v.Position)
		out[idx] = vertex{
			Position: mgl32.Vec2{p.X() / d.aspect, p.Y()},
			Color:    v.Color,
		}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), len(out)*int(vertexStride))
}

// RecordFrame implements vkr.Application.
func (d *demo) RecordFrame(ctx *vkr.FrameContext) error {
	t := time.Since(d.start).Seconds()

	pass, err := ctx.Factory.RenderPass(ctx.Pass)
	if err != nil {
		return err
	}
	if err := pass.SetClearColor(0, d.clearColor(t)); err != nil {
		return err
	}
	if err := ctx.BeginPass(vk.SubpassContentsInline); err != nil {
		return err
	}

	if d.pipeline.Valid() {
		pipeline, err := ctx.Factory.Pipeline(d.pipeline)
		if err != nil {
			return err
		}
		buffer, err := d.vertexBuffer(ctx.Slot)
		if err != nil {
			return err
		}
		if err := buffer.Write(0, d.spin(float32(t))); err != nil {
			return err
		}
		pipeline.Bind(ctx.Commands)
		vk.CmdBindVertexBuffers(ctx.Commands, 0, 1, []vk.Buffer{buffer.Get()}, []vk.DeviceSize{0})
		vk.CmdDraw(ctx.Commands, uint32(len(triangle)), 1, 0, 0)
	}

	return ctx.EndPass()
}

// OnResize implements vkr.Application.
func (d *demo) OnResize(extent gfx.Extent2D) error {
	d.extent = extent
	return nil
}

// OnViewChanged implements vkr.Application.
func (d *demo) OnViewChanged() {
	if !d.extent.Empty() {
		d.aspect = float32(d.extent.Width) / float32(d.extent.Height)
	}
}
