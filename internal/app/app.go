// Package app runs the render loop on top of the engine.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/nativegfx/internal/config"
	"github.com/Faultbox/nativegfx/internal/demo"
	"github.com/Faultbox/nativegfx/internal/engine"
	"github.com/Faultbox/nativegfx/internal/engine/capture"
	"github.com/Faultbox/nativegfx/internal/engine/clearstate"
	"github.com/Faultbox/nativegfx/internal/engine/window"
	"github.com/Faultbox/nativegfx/internal/gpu"
	"github.com/Faultbox/nativegfx/internal/gpu/glbackend"
	"github.com/Faultbox/nativegfx/internal/logger"
)

// App owns the window (if any), the engine and the demo scene.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	window *window.Window
	engine *engine.Engine
	scene  *demo.Scene
	events []window.Event
}

// New creates the device for cfg and sets up the scene. Headless runs use
// a recording device and never open a window.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		cfg: cfg,
		log: logger.Named("app"),
	}
	width, height := uint16(cfg.Renderer.Width), uint16(cfg.Renderer.Height)

	var dev gpu.Device
	if cfg.Renderer.Headless {
		dev = gpu.NewRecorder(gpu.Caps{MaxViews: uint16(cfg.Renderer.MaxViews)}, width, height)
	} else {
		var err error
		a.window, err = window.New(window.Config{
			Title:      "nativegfx",
			Width:      cfg.Renderer.Width,
			Height:     cfg.Renderer.Height,
			Fullscreen: cfg.Renderer.Fullscreen,
			VSync:      cfg.Renderer.VSync,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create window: %w", err)
		}
		// the drawable can be larger than the window on high-DPI displays
		w, h := a.window.DrawableSize()
		width, height = uint16(w), uint16(h)

		dev, err = glbackend.New(width, height, uint16(cfg.Renderer.MaxViews), a.window.SwapBuffers)
		if err != nil {
			a.window.Close()
			return nil, fmt.Errorf("failed to create device: %w", err)
		}
	}

	c := cfg.Clear
	a.engine = engine.New(ctx, dev, engine.Options{
		Width:  width,
		Height: height,
		Clear: &clearstate.Values{
			Red:     c.Color[0],
			Green:   c.Color[1],
			Blue:    c.Color[2],
			Alpha:   c.Color[3],
			Depth:   c.Depth,
			Stencil: c.Stencil,
			Flags:   gpu.ClearColor | gpu.ClearDepth,
		},
		MirroredUniforms: cfg.Renderer.MirroredUniforms,
		Capture:          capture.New(cfg.Capture.Dir, cfg.Capture.Prefix),
	})
	if a.window != nil {
		win := a.window
		a.engine.AddCloser(func() error {
			win.Close()
			return nil
		})
	}

	var err error
	a.scene, err = demo.NewScene(a.engine, width, height)
	if err != nil {
		a.engine.Dispose()
		return nil, fmt.Errorf("failed to create scene: %w", err)
	}

	a.log.Info("app initialized",
		zap.Bool("headless", cfg.Renderer.Headless),
		zap.Uint16("width", width),
		zap.Uint16("height", height))
	return a, nil
}

// Engine returns the render core.
func (a *App) Engine() *engine.Engine { return a.engine }

// Run renders until ctx is cancelled, the window is closed, or a headless
// run has produced its frames.
func (a *App) Run(ctx context.Context) error {
	start := time.Now()
	frameCount := 0
	fpsTimer := time.Now()

	a.log.Info("starting render loop")

	for frame := 0; ; frame++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if a.window != nil {
			quit, err := a.handleEvents()
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		} else if frame >= a.cfg.Renderer.HeadlessFrames {
			return a.captureFinal()
		}

		now := time.Now()
		if err := a.scene.Render(now.Sub(start)); err != nil {
			return fmt.Errorf("render error: %w", err)
		}
		a.engine.RenderFrame(now)

		frameCount++
		if time.Since(fpsTimer) >= time.Second {
			a.log.Debug("fps", zap.Int("count", frameCount))
			frameCount = 0
			fpsTimer = time.Now()
		}
	}
}

func (a *App) handleEvents() (quit bool, err error) {
	a.events = a.window.PollEvents(a.events)
	for _, event := range a.events {
		switch event.Type {
		case window.EventQuit:
			return true, nil
		case window.EventResize:
			w, h := uint16(event.Width), uint16(event.Height)
			a.engine.UpdateSize(w, h)
			a.scene.Resize(w, h)
		case window.EventKeyDown:
			switch event.Key {
			case sdl.SCANCODE_ESCAPE:
				return true, nil
			case sdl.SCANCODE_F12:
				if _, err := a.engine.CaptureFrameBuffer(nil); err != nil {
					a.log.Warn("capture failed", zap.Error(err))
				}
			}
		}
	}
	return false, nil
}

func (a *App) captureFinal() error {
	if a.cfg.Capture.Dir == "" {
		return nil
	}
	if _, err := a.engine.CaptureFrameBuffer(a.scene.Target()); err != nil {
		return fmt.Errorf("capturing render target: %w", err)
	}
	return nil
}

// Close releases the scene, the engine and the window.
func (a *App) Close() error {
	a.log.Info("closing app")
	return a.engine.Dispose()
}
