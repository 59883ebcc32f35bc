// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"sort"
	"strconv"
	"strings"
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PipelineLayoutDesc describes the descriptor sets and push constants
// a pipeline is used with.
type PipelineLayoutDesc struct {
	SetLayouts         []Handle[DescriptorSetLayout]
	PushConstantSize   uint32
	PushConstantStages vk.ShaderStageFlags
}

// PipelineLayout is a vulkan pipeline layout.
type PipelineLayout struct {
	device     vk.Device
	layout     vk.PipelineLayout
	pushSize   uint32
	pushStages vk.ShaderStageFlags
}

func (l *PipelineLayout) kind() Kind { return KindPipelineLayout }

// Get returns the vulkan pipeline layout handle.
func (l *PipelineLayout) Get() vk.PipelineLayout {
	return l.layout
}

// Release destroys the layout.
func (l *PipelineLayout) Release() {
	vk.DestroyPipelineLayout(l.device, l.layout, nil)
}

func (f *Factory) setLayouts(handles []Handle[DescriptorSetLayout]) ([]vk.DescriptorSetLayout, error) {
	layouts := make([]vk.DescriptorSetLayout, 0, len(handles))
	for _, h := range handles {
		l, err := f.DescriptorSetLayout(h)
		if err != nil {
			return nil, err
		}
		layouts = append(layouts, l.layout)
	}
	return layouts, nil
}

func newPipelineLayout(device vk.Device, layouts []vk.DescriptorSetLayout, pushSize uint32, pushStages vk.ShaderStageFlags) (*PipelineLayout, error) {
	plci := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}
	if pushSize > 0 {
		plci.PushConstantRangeCount = 1
		plci.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: pushStages,
			Offset:     0,
			Size:       pushSize,
		}}
	}

	var layout vk.PipelineLayout
	if err := vk.Error(vk.CreatePipelineLayout(device, &plci, nil, &layout)); err != nil {
		return nil, errors.Wrap(err, "vk.CreatePipelineLayout()")
	}
	return &PipelineLayout{
		device:     device,
		layout:     layout,
		pushSize:   pushSize,
		pushStages: pushStages,
	}, nil
}

// CreatePipelineLayout creates a layout that can be shared by pipelines.
func (f *Factory) CreatePipelineLayout(desc PipelineLayoutDesc) (Handle[PipelineLayout], error) {
	layouts, err := f.setLayouts(desc.SetLayouts)
	if err != nil {
		return Handle[PipelineLayout]{}, err
	}
	stages := desc.PushConstantStages
	if stages == 0 {
		stages = vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)
	}
	l, err := newPipelineLayout(f.device.Handle(), layouts, desc.PushConstantSize, stages)
	if err != nil {
		return Handle[PipelineLayout]{}, err
	}
	return insert(f, l), nil
}

// PipelineLayout returns the pipeline layout behind h.
func (f *Factory) PipelineLayout(h Handle[PipelineLayout]) (*PipelineLayout, error) {
	return resolve(f, h)
}

// PipelineConfig holds everything a graphics pipeline is created from.
type PipelineConfig struct {
	// Layout is used when valid. Otherwise the pipeline gets a layout
	// of its own out of SetLayouts and PushConstantSize, with push
	// constants visible to the vertex and fragment stages.
	Layout           Handle[PipelineLayout]
	SetLayouts       []Handle[DescriptorSetLayout]
	PushConstantSize uint32

	RenderPass Handle[RenderPass]
	Subpass    uint32
	Shaders    []Handle[Shader]

	VertexBindings   []vk.VertexInputBindingDescription
	VertexAttributes []vk.VertexInputAttributeDescription

	Topology         vk.PrimitiveTopology
	PrimitiveRestart bool
	PolygonMode      vk.PolygonMode
	CullMode         vk.CullModeFlags
	FrontFace        vk.FrontFace
	LineWidth        float32

	// Blend turns on alpha blending. Blended geometry is never culled
	// and never writes depth.
	Blend bool

	// BlendAttachments replaces the generated blend state, one entry
	// per color output of the subpass.
	BlendAttachments []vk.PipelineColorBlendAttachmentState

	DepthTest    bool
	DepthWrite   bool
	DepthCompare vk.CompareOp

	// DepthBias makes the depth bias dynamic state.
	DepthBias bool
}

// DefaultPipelineConfig returns an opaque, depth tested triangle list
// configuration.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Topology:     vk.PrimitiveTopologyTriangleList,
		PolygonMode:  vk.PolygonModeFill,
		CullMode:     vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:    vk.FrontFaceClockwise,
		LineWidth:    1.0,
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: vk.CompareOpLessOrEqual,
	}
}

var (
	topologies = map[string]vk.PrimitiveTopology{
		"point-list":     vk.PrimitiveTopologyPointList,
		"line-list":      vk.PrimitiveTopologyLineList,
		"line-strip":     vk.PrimitiveTopologyLineStrip,
		"triangle-list":  vk.PrimitiveTopologyTriangleList,
		"triangle-strip": vk.PrimitiveTopologyTriangleStrip,
		"triangle-fan":   vk.PrimitiveTopologyTriangleFan,
	}
	cullModes = map[string]vk.CullModeFlags{
		"none":  vk.CullModeFlags(vk.CullModeNone),
		"front": vk.CullModeFlags(vk.CullModeFrontBit),
		"back":  vk.CullModeFlags(vk.CullModeBackBit),
		"both":  vk.CullModeFlags(vk.CullModeFrontAndBack),
	}
	frontFaces = map[string]vk.FrontFace{
		"cw":  vk.FrontFaceClockwise,
		"ccw": vk.FrontFaceCounterClockwise,
	}
	polygonModes = map[string]vk.PolygonMode{
		"fill":  vk.PolygonModeFill,
		"line":  vk.PolygonModeLine,
		"point": vk.PolygonModePoint,
	}
)

func lookup[T any](table map[string]T, what, value string) (T, error) {
	v, ok := table[strings.ToLower(value)]
	if !ok {
		known := make([]string, 0, len(table))
		for k := range table {
			known = append(known, k)
		}
		sort.Strings(known)
		return v, errors.Errorf("%s %q not one of %s", what, value, strings.Join(known, ", "))
	}
	return v, nil
}

func boolOption(set func(*PipelineConfig, bool)) func(*PipelineConfig, string) error {
	return func(c *PipelineConfig, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		set(c, b)
		return nil
	}
}

func uintOption(set func(*PipelineConfig, uint32)) func(*PipelineConfig, string) error {
	return func(c *PipelineConfig, value string) error {
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		set(c, uint32(n))
		return nil
	}
}

// pipelineOptions is the table of options a configuration can be
// adjusted with out of a settings file.
var pipelineOptions = map[string]func(*PipelineConfig, string) error{
	"topology": func(c *PipelineConfig, value string) (err error) {
		c.Topology, err = lookup(topologies, "topology", value)
		return
	},
	"cull": func(c *PipelineConfig, value string) (err error) {
		c.CullMode, err = lookup(cullModes, "cull mode", value)
		return
	},
	"front-face": func(c *PipelineConfig, value string) (err error) {
		c.FrontFace, err = lookup(frontFaces, "front face", value)
		return
	},
	"polygon": func(c *PipelineConfig, value string) (err error) {
		c.PolygonMode, err = lookup(polygonModes, "polygon mode", value)
		return
	},
	"line-width": func(c *PipelineConfig, value string) error {
		w, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return err
		}
		c.LineWidth = float32(w)
		return nil
	},
	"blend":             boolOption(func(c *PipelineConfig, b bool) { c.Blend = b }),
	"depth-test":        boolOption(func(c *PipelineConfig, b bool) { c.DepthTest = b }),
	"depth-write":       boolOption(func(c *PipelineConfig, b bool) { c.DepthWrite = b }),
	"depth-bias":        boolOption(func(c *PipelineConfig, b bool) { c.DepthBias = b }),
	"primitive-restart": boolOption(func(c *PipelineConfig, b bool) { c.PrimitiveRestart = b }),
	"push-constants":    uintOption(func(c *PipelineConfig, n uint32) { c.PushConstantSize = n }),
	"subpass":           uintOption(func(c *PipelineConfig, n uint32) { c.Subpass = n }),
}

// RecognizedPipelineOptions returns the option names Apply accepts.
func RecognizedPipelineOptions() []string {
	names := make([]string, 0, len(pipelineOptions))
	for name := range pipelineOptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply sets the options named in opts. Unknown names and values that
// do not parse are errors and leave the rest of the options unapplied.
func (c *PipelineConfig) Apply(opts map[string]string) error {
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)

	next := *c
	for _, name := range names {
		set, ok := pipelineOptions[name]
		if !ok {
			return errors.Errorf("unknown pipeline option %q, recognized: %s", name, strings.Join(RecognizedPipelineOptions(), ", "))
		}
		if err := set(&next, opts[name]); err != nil {
			return errors.Wrapf(err, "pipeline option %s", name)
		}
	}
	*c = next
	return nil
}

// effective resolves settings that depend on each other.
func (c PipelineConfig) effective() PipelineConfig {
	if c.Blend {
		c.CullMode = vk.CullModeFlags(vk.CullModeNone)
		c.DepthWrite = false
	}
	if c.LineWidth == 0 {
		c.LineWidth = 1.0
	}
	return c
}

func (c PipelineConfig) blendAttachments(colors int) ([]vk.PipelineColorBlendAttachmentState, error) {
	if len(c.BlendAttachments) > 0 {
		if len(c.BlendAttachments) != colors {
			return nil, errors.Errorf("%d blend attachments for %d color outputs", len(c.BlendAttachments), colors)
		}
		return c.BlendAttachments, nil
	}
	state := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: 0xF,
		BlendEnable:    vk.False,
	}
	if c.Blend {
		state = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vk.True,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorOne,
			DstAlphaBlendFactor: vk.BlendFactorZero,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask:      0xF,
		}
	}
	states := make([]vk.PipelineColorBlendAttachmentState, colors)
	for idx := range states {
		states[idx] = state
	}
	return states, nil
}

func (c PipelineConfig) dynamicStates() []vk.DynamicState {
	states := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	if c.DepthBias {
		states = append(states, vk.DynamicStateDepthBias)
	}
	return states
}

// PipelineBuilder assembles a PipelineConfig step by step. The first
// error is kept and returned by Config and Build.
type PipelineBuilder struct {
	cfg PipelineConfig
	err error
}

// NewPipelineBuilder starts from the default configuration targeting
// the first subpass of pass.
func NewPipelineBuilder(pass Handle[RenderPass]) *PipelineBuilder {
	cfg := DefaultPipelineConfig()
	cfg.RenderPass = pass
	return &PipelineBuilder{cfg: cfg}
}

// Shaders sets the shader stages.
func (b *PipelineBuilder) Shaders(shaders ...Handle[Shader]) *PipelineBuilder {
	b.cfg.Shaders = shaders
	return b
}

// Subpass sets the subpass index the pipeline is used in.
func (b *PipelineBuilder) Subpass(subpass uint32) *PipelineBuilder {
	b.cfg.Subpass = subpass
	return b
}

// Vertex sets the vertex input layout.
func (b *PipelineBuilder) Vertex(bindings []vk.VertexInputBindingDescription, attributes []vk.VertexInputAttributeDescription) *PipelineBuilder {
	b.cfg.VertexBindings = bindings
	b.cfg.VertexAttributes = attributes
	return b
}

// Topology sets the primitive topology.
func (b *PipelineBuilder) Topology(topology vk.PrimitiveTopology) *PipelineBuilder {
	b.cfg.Topology = topology
	return b
}

// Blend toggles alpha blending.
func (b *PipelineBuilder) Blend(enable bool) *PipelineBuilder {
	b.cfg.Blend = enable
	return b
}

// Depth sets depth testing and writing.
func (b *PipelineBuilder) Depth(test, write bool) *PipelineBuilder {
	b.cfg.DepthTest = test
	b.cfg.DepthWrite = write
	return b
}

// Cull sets the cull mode.
func (b *PipelineBuilder) Cull(mode vk.CullModeFlags) *PipelineBuilder {
	b.cfg.CullMode = mode
	return b
}

// FrontFace sets the winding of front facing polygons.
func (b *PipelineBuilder) FrontFace(face vk.FrontFace) *PipelineBuilder {
	b.cfg.FrontFace = face
	return b
}

// Polygon sets the polygon rasterization mode.
func (b *PipelineBuilder) Polygon(mode vk.PolygonMode) *PipelineBuilder {
	b.cfg.PolygonMode = mode
	return b
}

// PushConstants sets the push constant range size in bytes.
func (b *PipelineBuilder) PushConstants(size uint32) *PipelineBuilder {
	b.cfg.PushConstantSize = size
	return b
}

// SetLayouts sets the descriptor set layouts of the pipeline layout.
func (b *PipelineBuilder) SetLayouts(layouts ...Handle[DescriptorSetLayout]) *PipelineBuilder {
	b.cfg.SetLayouts = layouts
	return b
}

// Layout uses an existing pipeline layout.
func (b *PipelineBuilder) Layout(layout Handle[PipelineLayout]) *PipelineBuilder {
	b.cfg.Layout = layout
	return b
}

// Options applies named options, see RecognizedPipelineOptions.
func (b *PipelineBuilder) Options(opts map[string]string) *PipelineBuilder {
	if b.err == nil {
		b.err = b.cfg.Apply(opts)
	}
	return b
}

// Config returns the assembled configuration.
func (b *PipelineBuilder) Config() (PipelineConfig, error) {
	return b.cfg, b.err
}

// Build creates the pipeline.
func (b *PipelineBuilder) Build(f *Factory) (Handle[Pipeline], error) {
	if b.err != nil {
		return Handle[Pipeline]{}, b.err
	}
	return f.CreatePipeline(b.cfg)
}

// Pipeline is a graphics or compute pipeline.
type Pipeline struct {
	device    vk.Device
	pipeline  vk.Pipeline
	bindPoint vk.PipelineBindPoint
	layout    *PipelineLayout

	// owned is true when the layout was created for this pipeline alone.
	owned bool
}

func (p *Pipeline) kind() Kind { return KindPipeline }

// Get returns the vulkan pipeline handle.
func (p *Pipeline) Get() vk.Pipeline {
	return p.pipeline
}

// Layout returns the pipeline layout, for binding descriptor sets.
func (p *Pipeline) Layout() vk.PipelineLayout {
	return p.layout.layout
}

// BindPoint returns where the pipeline binds.
func (p *Pipeline) BindPoint() vk.PipelineBindPoint {
	return p.bindPoint
}

// Bind records binding the pipeline.
func (p *Pipeline) Bind(cmd vk.CommandBuffer) {
	vk.CmdBindPipeline(cmd, p.bindPoint, p.pipeline)
}

// BindSets records binding descriptor sets starting at set index first.
func (p *Pipeline) BindSets(cmd vk.CommandBuffer, first uint32, sets ...*DescriptorSet) {
	raw := make([]vk.DescriptorSet, len(sets))
	for idx, s := range sets {
		raw[idx] = s.set
	}
	vk.CmdBindDescriptorSets(cmd, p.bindPoint, p.layout.layout, first, uint32(len(raw)), raw, 0, nil)
}

// PushConstants records an update of the push constant range.
func (p *Pipeline) PushConstants(cmd vk.CommandBuffer, offset uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if offset+uint32(len(data)) > p.layout.pushSize {
		return errors.Errorf("push of %d bytes at %d overflows range of %d", len(data), offset, p.layout.pushSize)
	}
	vk.CmdPushConstants(cmd, p.layout.layout, p.layout.pushStages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
	return nil
}

// Release destroys the pipeline and its own layout.
func (p *Pipeline) Release() {
	vk.DestroyPipeline(p.device, p.pipeline, nil)
	if p.owned {
		p.layout.Release()
	}
}

func (f *Factory) pipelineLayout(h Handle[PipelineLayout], sets []Handle[DescriptorSetLayout], pushSize uint32, stages vk.ShaderStageFlags) (*PipelineLayout, bool, error) {
	if h.Valid() {
		l, err := f.PipelineLayout(h)
		return l, false, err
	}
	layouts, err := f.setLayouts(sets)
	if err != nil {
		return nil, false, err
	}
	l, err := newPipelineLayout(f.device.Handle(), layouts, pushSize, stages)
	return l, true, err
}

// CreatePipeline creates a graphics pipeline through the shared
// pipeline cache. Viewport and scissor are always dynamic.
func (f *Factory) CreatePipeline(cfg PipelineConfig) (Handle[Pipeline], error) {
	cfg = cfg.effective()

	pass, err := f.RenderPass(cfg.RenderPass)
	if err != nil {
		return Handle[Pipeline]{}, err
	}
	colors, err := pass.ColorAttachments(cfg.Subpass)
	if err != nil {
		return Handle[Pipeline]{}, err
	}
	if len(cfg.Shaders) == 0 {
		return Handle[Pipeline]{}, errors.New("pipeline needs at least one shader")
	}

	var fragment bool
	stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(cfg.Shaders))
	for _, h := range cfg.Shaders {
		s, err := f.Shader(h)
		if err != nil {
			return Handle[Pipeline]{}, err
		}
		if s.stage == vk.ShaderStageComputeBit {
			return Handle[Pipeline]{}, errors.Errorf("compute shader %s in a graphics pipeline", s.name)
		}
		fragment = fragment || s.stage == vk.ShaderStageFragmentBit
		stages = append(stages, s.stageInfo())
	}
	// depth only passes have no fragment output
	if !fragment {
		colors = 0
	}
	blend, err := cfg.blendAttachments(colors)
	if err != nil {
		return Handle[Pipeline]{}, err
	}

	layout, owned, err := f.pipelineLayout(cfg.Layout, cfg.SetLayouts, cfg.PushConstantSize,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit))
	if err != nil {
		return Handle[Pipeline]{}, err
	}

	dynamic := cfg.dynamicStates()
	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(cfg.VertexBindings)),
			PVertexBindingDescriptions:      cfg.VertexBindings,
			VertexAttributeDescriptionCount: uint32(len(cfg.VertexAttributes)),
			PVertexAttributeDescriptions:    cfg.VertexAttributes,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology:               cfg.Topology,
			PrimitiveRestartEnable: vkBool(cfg.PrimitiveRestart),
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:           vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode:     cfg.PolygonMode,
			CullMode:        cfg.CullMode,
			FrontFace:       cfg.FrontFace,
			DepthBiasEnable: vkBool(cfg.DepthBias),
			LineWidth:       cfg.LineWidth,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       vkBool(cfg.DepthTest),
			DepthWriteEnable:      vkBool(cfg.DepthWrite),
			DepthCompareOp:        cfg.DepthCompare,
			DepthBoundsTestEnable: vk.False,
			Back: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
			StencilTestEnable: vk.False,
			Front: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: uint32(len(blend)),
			PAttachments:    blend,
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamic)),
			PDynamicStates:    dynamic,
		},
		Layout:     layout.layout,
		RenderPass: pass.pass,
		Subpass:    cfg.Subpass,
	}}

	pipelines := make([]vk.Pipeline, len(gpci))
	if err := vk.Error(vk.CreateGraphicsPipelines(f.device.Handle(), f.cache, uint32(len(gpci)), gpci, nil, pipelines)); err != nil {
		if owned {
			layout.Release()
		}
		return Handle[Pipeline]{}, errors.Wrap(err, "vk.CreateGraphicsPipelines()")
	}

	log.WithFields(log.Fields{
		"stages":  len(stages),
		"subpass": cfg.Subpass,
		"colors":  colors,
	}).Debug("graphics pipeline created")

	return insert(f, &Pipeline{
		device:    f.device.Handle(),
		pipeline:  pipelines[0],
		bindPoint: vk.PipelineBindPointGraphics,
		layout:    layout,
		owned:     owned,
	}), nil
}

// ComputeConfig holds what a compute pipeline is created from. Layout
// handling follows PipelineConfig.
type ComputeConfig struct {
	Shader           Handle[Shader]
	Layout           Handle[PipelineLayout]
	SetLayouts       []Handle[DescriptorSetLayout]
	PushConstantSize uint32
}

// CreateComputePipeline creates a compute pipeline through the shared
// pipeline cache.
func (f *Factory) CreateComputePipeline(cfg ComputeConfig) (Handle[Pipeline], error) {
	s, err := f.Shader(cfg.Shader)
	if err != nil {
		return Handle[Pipeline]{}, err
	}
	if s.stage != vk.ShaderStageComputeBit {
		return Handle[Pipeline]{}, errors.Errorf("shader %s is not a compute shader", s.name)
	}

	layout, owned, err := f.pipelineLayout(cfg.Layout, cfg.SetLayouts, cfg.PushConstantSize,
		vk.ShaderStageFlags(vk.ShaderStageComputeBit))
	if err != nil {
		return Handle[Pipeline]{}, err
	}

	pipelines := make([]vk.Pipeline, 1)
	cpci := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  s.stageInfo(),
		Layout: layout.layout,
	}
	if err := vk.Error(vk.CreateComputePipelines(f.device.Handle(), f.cache, 1, []vk.ComputePipelineCreateInfo{cpci}, nil, pipelines)); err != nil {
		if owned {
			layout.Release()
		}
		return Handle[Pipeline]{}, errors.Wrap(err, "vk.CreateComputePipelines()")
	}

	return insert(f, &Pipeline{
		device:    f.device.Handle(),
		pipeline:  pipelines[0],
		bindPoint: vk.PipelineBindPointCompute,
		layout:    layout,
		owned:     owned,
	}), nil
}

// Pipeline returns the pipeline behind h.
func (f *Factory) Pipeline(h Handle[Pipeline]) (*Pipeline, error) {
	return resolve(f, h)
}

func vkBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
