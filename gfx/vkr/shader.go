// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"path"
	"strings"

	vk "github.com/devblok/vulkan"
	"github.com/gogpu/naga"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ShaderDesc identifies a shader blob and the stage it runs in.
type ShaderDesc struct {
	// Path the loader knows the blob by. Paths ending in .wgsl are
	// compiled to SPIR-V, anything else is taken as SPIR-V already.
	Path string

	// Stage is derived from the path when zero: name.vert.spv,
	// name.frag.spv and name.comp.spv are recognized.
	Stage vk.ShaderStageFlagBits

	// Entry point, "main" when empty.
	Entry string
}

// Shader is a shader module together with the stage it is used in.
type Shader struct {
	device vk.Device
	module vk.ShaderModule
	stage  vk.ShaderStageFlagBits
	entry  string
	name   string
}

func (s *Shader) kind() Kind { return KindShader }

// Module returns the vulkan shader module.
func (s *Shader) Module() vk.ShaderModule {
	return s.module
}

// Stage returns the pipeline stage of the shader.
func (s *Shader) Stage() vk.ShaderStageFlagBits {
	return s.stage
}

// Name returns the shader name, the file name up to the first dot.
func (s *Shader) Name() string {
	return s.name
}

// Release destroys the shader module.
func (s *Shader) Release() {
	vk.DestroyShaderModule(s.device, s.module, nil)
}

func (s *Shader) stageInfo() vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  s.stage,
		Module: s.module,
		PName:  safeString(s.entry),
	}
}

// StageFromPath derives the shader stage out of a file name
// of the form name.stage[.spv|.wgsl].
func StageFromPath(p string) (vk.ShaderStageFlagBits, bool) {
	name := path.Base(p)
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".spv"), ".wgsl")
	switch path.Ext(name) {
	case ".vert":
		return vk.ShaderStageVertexBit, true
	case ".frag":
		return vk.ShaderStageFragmentBit, true
	case ".comp":
		return vk.ShaderStageComputeBit, true
	case ".geom":
		return vk.ShaderStageGeometryBit, true
	case ".tesc":
		return vk.ShaderStageTessellationControlBit, true
	case ".tese":
		return vk.ShaderStageTessellationEvaluationBit, true
	}
	return 0, false
}

// ShaderCode turns the loaded blob into SPIR-V words, compiling WGSL sources.
func ShaderCode(p string, blob []byte) ([]uint32, error) {
	if strings.HasSuffix(p, ".wgsl") {
		spirv, err := naga.Compile(string(blob))
		if err != nil {
			return nil, errors.Wrapf(err, "naga.Compile(%s)", p)
		}
		blob = spirv
	}
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil, errors.Errorf("%s: %d bytes is not SPIR-V", p, len(blob))
	}
	return SliceUint32(blob), nil
}

func (f *Factory) newShader(desc ShaderDesc, blob []byte) (*Shader, error) {
	stage := desc.Stage
	if stage == 0 {
		var ok bool
		if stage, ok = StageFromPath(desc.Path); !ok {
			return nil, errors.Errorf("%s: cannot tell shader stage", desc.Path)
		}
	}
	entry := desc.Entry
	if entry == "" {
		entry = "main"
	}

	code, err := ShaderCode(desc.Path, blob)
	if err != nil {
		return nil, err
	}

	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(f.device.Handle(), &smci, nil, &module)); err != nil {
		return nil, errors.Wrapf(err, "vk.CreateShaderModule(%s)", desc.Path)
	}

	return &Shader{
		device: f.device.Handle(),
		module: module,
		stage:  stage,
		entry:  entry,
		name:   strings.SplitN(path.Base(desc.Path), ".", 2)[0],
	}, nil
}

// CreateShader loads a shader blob through the factory loader
// and creates a shader module out of it.
func (f *Factory) CreateShader(desc ShaderDesc) (Handle[Shader], error) {
	blob, err := f.loader.Load(desc.Path)
	if err != nil {
		return Handle[Shader]{}, err
	}
	shader, err := f.newShader(desc, blob)
	if err != nil {
		return Handle[Shader]{}, err
	}
	return insert(f, shader), nil
}

// LoadShaders loads every blob concurrently, then creates the modules.
// Either every shader is created or none is.
func (f *Factory) LoadShaders(descs ...ShaderDesc) ([]Handle[Shader], error) {
	blobs := make([][]byte, len(descs))
	var g errgroup.Group
	for idx := range descs {
		idx := idx
		g.Go(func() error {
			blob, err := f.loader.Load(descs[idx].Path)
			if err != nil {
				return err
			}
			blobs[idx] = blob
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	handles := make([]Handle[Shader], 0, len(descs))
	for idx, desc := range descs {
		shader, err := f.newShader(desc, blobs[idx])
		if err != nil {
			for _, h := range handles {
				f.Free(h)
			}
			return nil, err
		}
		handles = append(handles, insert(f, shader))
	}
	return handles, nil
}

// Shader returns the shader behind h.
func (f *Factory) Shader(h Handle[Shader]) (*Shader, error) {
	return resolve(f, h)
}
