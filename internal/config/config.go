// Package config handles runtime configuration loading and management.
package config

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Config holds all runtime settings.
type Config struct {
	Renderer RendererConfig `yaml:"renderer"`
	Clear    ClearConfig    `yaml:"clear"`
	Capture  CaptureConfig  `yaml:"capture"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RendererConfig holds display and render core settings.
type RendererConfig struct {
	Width      int  `yaml:"width"`
	Height     int  `yaml:"height"`
	Fullscreen bool `yaml:"fullscreen"`
	VSync      bool `yaml:"vsync"`
	// Headless records commands instead of opening a window.
	Headless bool `yaml:"headless"`
	// HeadlessFrames is the number of frames a headless run renders.
	HeadlessFrames int `yaml:"headless_frames"`
	// MaxViews caps the number of view slots; 0 uses the device limit.
	MaxViews int `yaml:"max_views"`
	// MirroredUniforms names uniforms that hold projection matrices.
	MirroredUniforms []string `yaml:"mirrored_uniforms"`
}

// ClearConfig holds the default clear values of new render targets.
type ClearConfig struct {
	Color   [4]float32 `yaml:"color"`
	Depth   float32    `yaml:"depth"`
	Stencil uint8      `yaml:"stencil"`
}

// CaptureConfig holds frame capture settings.
type CaptureConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Renderer: RendererConfig{
			Width:            1280,
			Height:           720,
			Fullscreen:       false,
			VSync:            true,
			Headless:         false,
			HeadlessFrames:   60,
			MaxViews:         0,
			MirroredUniforms: []string{"projection", "u_proj", "u_viewProj"},
		},
		Clear: ClearConfig{
			Color:   [4]float32{68.0 / 255, 51.0 / 255, 85.0 / 255, 1},
			Depth:   1,
			Stencil: 0,
		},
		Capture: CaptureConfig{
			Dir:    "captures",
			Prefix: "frame",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var err error
	if c.Renderer.Width <= 0 || c.Renderer.Width > 0xFFFF {
		err = multierr.Append(err, fmt.Errorf("renderer.width %d out of range", c.Renderer.Width))
	}
	if c.Renderer.Height <= 0 || c.Renderer.Height > 0xFFFF {
		err = multierr.Append(err, fmt.Errorf("renderer.height %d out of range", c.Renderer.Height))
	}
	if c.Renderer.HeadlessFrames < 0 {
		err = multierr.Append(err, fmt.Errorf("renderer.headless_frames %d is negative", c.Renderer.HeadlessFrames))
	}
	if c.Renderer.MaxViews < 0 || c.Renderer.MaxViews > 0xFFFF {
		err = multierr.Append(err, fmt.Errorf("renderer.max_views %d out of range", c.Renderer.MaxViews))
	}
	for i, v := range c.Clear.Color {
		if v < 0 || v > 1 {
			err = multierr.Append(err, fmt.Errorf("clear.color[%d] %g not in [0,1]", i, v))
		}
	}
	if c.Clear.Depth < 0 || c.Clear.Depth > 1 {
		err = multierr.Append(err, fmt.Errorf("clear.depth %g not in [0,1]", c.Clear.Depth))
	}
	if !validLevel(c.Logging.Level) {
		err = multierr.Append(err, fmt.Errorf("logging.level %q not one of %s",
			c.Logging.Level, strings.Join(logLevels, ", ")))
	}
	return err
}

func validLevel(level string) bool {
	for _, l := range logLevels {
		if strings.EqualFold(level, l) {
			return true
		}
	}
	return false
}
