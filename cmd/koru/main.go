// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"runtime"
	"time"

	"github.com/devblok/vkframe/core"
	"github.com/devblok/vkframe/gfx"
	"github.com/devblok/vkframe/gfx/vkr"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

func init() {
	runtime.LockOSThread()
}

var (
	configPath = flag.String("config", "", "TOML configuration file")
	envPath    = flag.String("env", ".env", "dotenv file with KORU_* overrides")
	validation = flag.Bool("vkdbg", false, "enable the vulkan validation layer")
	vsync      = flag.Bool("vsync", true, "wait for vertical blank when presenting")
)

// loadConfiguration layers defaults, the configuration file, the
// environment and finally the flags given on the command line.
func loadConfiguration() (core.Configuration, error) {
	flag.Parse()

	if err := core.LoadEnvFile(*envPath); err != nil {
		return core.Configuration{}, err
	}
	cfg, err := core.LoadConfiguration(*configPath)
	if err != nil {
		return cfg, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "vkdbg":
			cfg.Renderer.Validation = *validation
		case "vsync":
			cfg.Renderer.VSync = *vsync
		}
	})
	return cfg, nil
}

// shaderLoader looks in the shader archive first when one is
// configured, then the shader directory, then the embedded box.
func shaderLoader(cfg core.RendererConfiguration) (gfx.Loader, func(), error) {
	var (
		loaders gfx.MultiLoader
		closer  = func() {}
	)
	if cfg.ShaderArchive != "" {
		archive, err := gfx.OpenArchiveLoader(cfg.ShaderArchive)
		if err != nil {
			return nil, closer, err
		}
		loaders = append(loaders, archive)
		closer = func() { archive.Close() }
	}
	loaders = append(loaders,
		gfx.DirLoader(cfg.ShaderDirectory),
		// relative to the gfx package, where the box is opened
		gfx.NewBoxLoader("../shaders"),
	)
	return loaders, closer, nil
}

func newWindow(cfg core.RendererConfiguration) (*sdl.Window, error) {
	window, err := sdl.CreateWindow("Koru3D",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.ScreenWidth),
		int32(cfg.ScreenHeight),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return nil, errors.Wrap(err, "sdl.CreateWindow()")
	}
	return window, nil
}

func drawableExtent(window *sdl.Window) gfx.Extent2D {
	w, h := window.VulkanGetDrawableSize()
	return gfx.Extent2D{Width: uint32(w), Height: uint32(h)}
}

// pollEvents forwards window events to the frame loop and reports
// whether the application should quit.
func pollEvents(window *sdl.Window, loop *vkr.FrameLoop) bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch et := event.(type) {
		case *sdl.QuitEvent:
			return true
		case *sdl.KeyboardEvent:
			if et.Keysym.Sym == sdl.K_ESCAPE {
				return true
			}
		case *sdl.WindowEvent:
			switch et.Event {
			case sdl.WINDOWEVENT_SIZE_CHANGED:
				extent := drawableExtent(window)
				loop.Resize(extent.Width, extent.Height)
			case sdl.WINDOWEVENT_MINIMIZED:
				loop.SetMinimized(true)
			case sdl.WINDOWEVENT_RESTORED:
				loop.SetMinimized(false)
			case sdl.WINDOWEVENT_EXPOSED:
				loop.ViewChanged()
			}
		}
	}
	return false
}

func run(cfg core.Configuration) error {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return errors.Wrap(err, "sdl.Init()")
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		return errors.Wrap(err, "sdl.VulkanLoadLibrary()")
	}
	defer sdl.VulkanUnloadLibrary()

	window, err := newWindow(cfg.Renderer)
	if err != nil {
		return err
	}
	defer window.Destroy()

	instance, err := vkr.NewInstance(vkr.DefaultApplicationInfo, vkr.InstanceConfiguration{
		Extensions: window.VulkanGetInstanceExtensions(),
		Validation: cfg.Renderer.Validation,
		ProcAddr:   sdl.VulkanGetVkGetInstanceProcAddr(),
	})
	if err != nil {
		return err
	}
	defer instance.Destroy()

	surfacePtr, err := window.VulkanCreateSurface(instance.Handle())
	if err != nil {
		return errors.Wrap(vkr.ErrSurface, err.Error())
	}
	surface := vkr.SurfaceFromPointer(surfacePtr)
	defer instance.DestroySurface(surface)

	adapters, err := instance.Adapters(surface)
	if err != nil {
		return err
	}
	adapter, err := vkr.SelectAdapter(adapters, vkr.Requirements{
		Extensions: cfg.Renderer.DeviceExtensions,
		Surface:    true,
	})
	if err != nil {
		return err
	}

	policy, err := vkr.ParsePresentPolicy(cfg.Renderer.PresentPolicy)
	if err != nil {
		return err
	}
	device, err := vkr.CreateDevice(adapter, vkr.DeviceOptions{
		Extensions:    cfg.Renderer.DeviceExtensions,
		PresentPolicy: policy,
		Surface:       true,
	})
	if err != nil {
		return err
	}
	defer device.Destroy()

	loader, closeLoader, err := shaderLoader(cfg.Renderer)
	defer closeLoader()
	if err != nil {
		return err
	}

	factory, err := vkr.NewFactory(device, vkr.FactoryOptions{Loader: loader})
	if err != nil {
		return err
	}
	defer factory.Destroy()

	presenter, err := vkr.NewSwapchainPresenter(factory, surface, vkr.PresenterOptions{
		Swapchain: vkr.SwapchainOptions{
			Extent:     drawableExtent(window),
			VSync:      cfg.Renderer.VSync,
			ImageCount: cfg.Renderer.SwapchainSize,
		},
		ClearColor: vkr.DefaultClearColor,
	})
	if err != nil {
		return err
	}
	defer presenter.Destroy()

	wait, err := vkr.ParseResizeWait(cfg.Renderer.ResizeWait)
	if err != nil {
		return err
	}
	loop := vkr.NewFrameLoop(presenter, newDemo(cfg.Renderer.Pipeline), vkr.FrameLoopOptions{
		Factory:    factory,
		ResizeWait: wait,
	})
	defer func() {
		if err := loop.Stop(); err != nil {
			log.WithError(err).Error("waiting for the device to finish")
		}
	}()

	log.WithFields(log.Fields{
		"adapter": adapter.Name,
		"extent":  presenter.Extent(),
		"mode":    presenter.Swapchain().PresentMode(),
		"slots":   presenter.Slots(),
	}).Info("rendering")

	clock := core.NewTime(cfg.Time)
	defer clock.Stop()

	for {
		select {
		case <-clock.EventTicker().C:
			if pollEvents(window, loop) {
				log.WithField("frames", loop.Frames()).Info("event loop exited")
				return nil
			}
		case <-clock.FpsTicker().C:
			presented, err := loop.Frame()
			if err != nil {
				return err
			}
			if !presented {
				continue
			}
			clock.Tick(time.Now())
			if clock.Frames()%1000 == 0 {
				log.WithFields(log.Fields{
					"frames":     clock.Frames(),
					"frame_time": clock.FrameTime(),
				}).Debug("frame statistics")
			}
		}
	}
}

func main() {
	cfg, err := loadConfiguration()
	if err != nil {
		log.WithError(err).Fatal("configuration")
	}
	if err := core.SetupLogging(cfg.Log); err != nil {
		log.WithError(err).Fatal("logging")
	}

	if err := run(cfg); err != nil {
		log.WithError(err).WithField("fatal", vkr.IsFatal(err)).Fatal("koru stopped")
	}
}
