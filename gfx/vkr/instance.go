// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	validationLayer      = "VK_LAYER_KHRONOS_validation"
	debugReportExtension = "VK_EXT_debug_report"
)

// DefaultApplicationInfo describes the application to the driver.
var DefaultApplicationInfo = &vk.ApplicationInfo{
	SType:              vk.StructureTypeApplicationInfo,
	ApiVersion:         vk.MakeVersion(1, 0, 0),
	ApplicationVersion: vk.MakeVersion(1, 0, 0),
	PApplicationName:   "Koru3D\x00",
	PEngineName:        "Koru3D\x00",
}

// InstanceConfiguration configures instance creation.
type InstanceConfiguration struct {
	// Extensions required by the windowing system.
	Extensions []string

	// Validation enables the validation layer and routes
	// its reports into the logger.
	Validation bool

	// ProcAddr is the vkGetInstanceProcAddr provided by the windowing
	// system. When nil the default loader is used, which is what
	// headless programs and tests want.
	ProcAddr unsafe.Pointer
}

// Instance owns the vulkan instance and, optionally, the debug callback.
type Instance struct {
	instance vk.Instance
	debug    vk.DebugReportCallback
	devices  []vk.PhysicalDevice
}

// NewInstance loads vulkan and creates an instance.
func NewInstance(app *vk.ApplicationInfo, cfg InstanceConfiguration) (*Instance, error) {
	extensions := append([]string{}, cfg.Extensions...)
	var layers []string
	if cfg.Validation {
		layers = append(layers, validationLayer)
		extensions = append(extensions, debugReportExtension)
	}

	if cfg.ProcAddr == nil {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, errors.Wrap(err, "vk.SetDefaultGetInstanceProcAddr()")
		}
	} else {
		vk.SetGetInstanceProcAddr(cfg.ProcAddr)
	}

	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "vk.Init()")
	}

	instanceInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        app,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}

	var instance vk.Instance
	if err := vk.Error(vk.CreateInstance(&instanceInfo, nil, &instance)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateInstance()")
	}
	vk.InitInstance(instance)

	devices, err := enumerateDevices(instance)
	if err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, err
	}

	inst := &Instance{
		instance: instance,
		debug:    vk.NullDebugReportCallback,
		devices:  devices,
	}

	if cfg.Validation {
		debugInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugReport,
		}
		var callback vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(instance, &debugInfo, nil, &callback)); err != nil {
			log.WithError(err).Warn("validation requested but debug report is unavailable")
		} else {
			inst.debug = callback
		}
	}

	log.WithFields(log.Fields{
		"extensions": extensions,
		"layers":     layers,
		"devices":    len(devices),
	}).Debug("vulkan instance created")

	return inst, nil
}

func enumerateDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var deviceCount uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &deviceCount, nil)); err != nil {
		return nil, errors.Wrap(err, "vk.EnumeratePhysicalDevices()")
	}
	devices := make([]vk.PhysicalDevice, deviceCount)
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &deviceCount, devices)); err != nil {
		return nil, errors.Wrap(err, "vk.EnumeratePhysicalDevices()")
	}
	return devices[:deviceCount], nil
}

func debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	entry := log.WithFields(log.Fields{
		"layer": pLayerPrefix,
		"code":  messageCode,
	})
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		entry.Error(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		entry.Warn(pMessage)
	default:
		entry.Debug(pMessage)
	}
	return vk.Bool32(vk.False)
}

// Handle returns the raw vulkan instance, which windowing
// systems need to create surfaces.
func (i *Instance) Handle() vk.Instance {
	return i.instance
}

// Adapters describes every physical device. Present support of queue
// families is probed against surface, which may be vk.NullSurface.
func (i *Instance) Adapters(surface vk.Surface) ([]AdapterDescriptor, error) {
	adapters := make([]AdapterDescriptor, 0, len(i.devices))
	for _, device := range i.devices {
		desc, err := DescribeAdapter(device, surface)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, desc)
	}
	return adapters, nil
}

// SurfaceFromPointer wraps a surface created by the windowing system.
func SurfaceFromPointer(ptr unsafe.Pointer) vk.Surface {
	return vk.SurfaceFromPointer(uintptr(ptr))
}

// DestroySurface destroys a surface created on this instance.
func (i *Instance) DestroySurface(surface vk.Surface) {
	if surface != vk.NullSurface {
		vk.DestroySurface(i.instance, surface, nil)
	}
}

// Destroy destroys the instance. Every device created from it
// must be destroyed beforehand.
func (i *Instance) Destroy() {
	if i.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.instance, i.debug, nil)
		i.debug = vk.NullDebugReportCallback
	}
	i.devices = nil
	vk.DestroyInstance(i.instance, nil)
}
