// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Environment variables that override the configuration file.
const (
	EnvValidation    = "KORU_VALIDATION"
	EnvVSync         = "KORU_VSYNC"
	EnvLogLevel      = "KORU_LOG_LEVEL"
	EnvShaders       = "KORU_SHADERS"
	EnvPresentPolicy = "KORU_PRESENT_POLICY"
)

// Configuration defines a global engine configuration setting.
// It is read once at startup; the renderer never re-reads it.
type Configuration struct {
	Time     TimeConfiguration     `toml:"time"`
	Renderer RendererConfiguration `toml:"renderer"`
	Log      LogConfiguration      `toml:"log"`
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int `toml:"fps"`

	// EventPollDelay is the delay between window
	// event polls in milliseconds
	EventPollDelay int `toml:"event_poll_delay"`
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	// SwapchainSize is the preferred number of swapchain images,
	// 0 lets the surface decide (minimum + 1).
	SwapchainSize    uint32   `toml:"swapchain_size"`
	DeviceExtensions []string `toml:"device_extensions"`

	ScreenWidth  uint32 `toml:"width"`
	ScreenHeight uint32 `toml:"height"`

	ShaderDirectory string `toml:"shaders"`
	ShaderArchive   string `toml:"shader_archive"`

	Validation bool `toml:"validation"`
	VSync      bool `toml:"vsync"`

	// PresentPolicy is either "shared" or "separate".
	PresentPolicy string `toml:"present_policy"`

	// ResizeWait is either "device" or "frames".
	ResizeWait string `toml:"resize_wait"`

	// Pipeline holds named pipeline options applied to the pipelines
	// the application builds.
	Pipeline map[string]string `toml:"pipeline"`
}

// LogConfiguration configures the process logger.
type LogConfiguration struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// DefaultConfiguration returns the configuration used
// when nothing else is specified.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 0,
			EventPollDelay:  10,
		},
		Renderer: RendererConfiguration{
			ScreenWidth:  800,
			ScreenHeight: 600,
			DeviceExtensions: []string{
				"VK_KHR_swapchain",
			},
			ShaderDirectory: "./shaders",
			VSync:           true,
			PresentPolicy:   "shared",
			ResizeWait:      "device",
		},
		Log: LogConfiguration{
			Level: "info",
		},
	}
}

// LoadConfiguration reads the TOML file at path over the defaults,
// then applies environment overrides. An empty path skips the file.
func LoadConfiguration(path string) (Configuration, error) {
	cfg := DefaultConfiguration()

	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "reading configuration")
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing %s", path)
		}
	}

	if err := cfg.ApplyEnvironment(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the
// process environment. Missing files are not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}
	envy.Reload()
	return nil
}

// ApplyEnvironment overrides fields that have a corresponding
// environment variable set.
func (c *Configuration) ApplyEnvironment() error {
	if v := envy.Get(EnvValidation, ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, EnvValidation)
		}
		c.Renderer.Validation = b
	}
	if v := envy.Get(EnvVSync, ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, EnvVSync)
		}
		c.Renderer.VSync = b
	}
	if v := envy.Get(EnvLogLevel, ""); v != "" {
		c.Log.Level = v
	}
	if v := envy.Get(EnvShaders, ""); v != "" {
		c.Renderer.ShaderDirectory = v
	}
	if v := envy.Get(EnvPresentPolicy, ""); v != "" {
		c.Renderer.PresentPolicy = strings.ToLower(v)
	}
	return nil
}

// Validate checks the values that have a closed set of options.
func (c Configuration) Validate() error {
	switch c.Renderer.PresentPolicy {
	case "", "shared", "separate":
	default:
		return errors.Errorf("unknown present policy %q", c.Renderer.PresentPolicy)
	}
	switch c.Renderer.ResizeWait {
	case "", "device", "frames":
	default:
		return errors.Errorf("unknown resize wait %q", c.Renderer.ResizeWait)
	}
	if c.Time.FramesPerSecond < 0 {
		return errors.New("frames per second cannot be negative")
	}
	return nil
}
