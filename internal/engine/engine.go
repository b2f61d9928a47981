// Package engine is the render core facade. It owns the device, the render
// targets, programs and GPU resources, and routes draws to the bound view.
//
// Engine methods must be called on the render thread. Other goroutines hand
// work over with Dispatch or ScheduleRender.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/nativegfx/internal/engine/capture"
	"github.com/Faultbox/nativegfx/internal/engine/clearstate"
	"github.com/Faultbox/nativegfx/internal/engine/framebuffer"
	"github.com/Faultbox/nativegfx/internal/engine/program"
	"github.com/Faultbox/nativegfx/internal/engine/resource"
	"github.com/Faultbox/nativegfx/internal/engine/scheduler"
	"github.com/Faultbox/nativegfx/internal/engine/texture"
	"github.com/Faultbox/nativegfx/internal/gpu"
	"github.com/Faultbox/nativegfx/internal/logger"
	"github.com/Faultbox/nativegfx/pkg/math"
)

var (
	ErrDisposed       = errors.New("engine: disposed")
	ErrNoProgram      = errors.New("engine: no program set")
	ErrUnknownUniform = errors.New("engine: unknown uniform")
	ErrDestroyed      = errors.New("engine: render target destroyed")
)

// Options configures a new engine.
type Options struct {
	Width  uint16
	Height uint16
	// Clear holds the clear values of the back buffer and new targets. Nil
	// means clearstate.DefaultValues.
	Clear *clearstate.Values
	// MirroredUniforms names uniforms holding projection matrices.
	MirroredUniforms []string
	// Capture receives CaptureFrameBuffer output. Nil disables captures.
	Capture *capture.Capturer
}

type textureBinding struct {
	stage   uint8
	texture gpu.TextureHandle
}

// Engine is the render core.
type Engine struct {
	dev gpu.Device
	log *zap.Logger

	frameBuffers *framebuffer.Manager
	programs     *program.Collection
	resources    *resource.Registry
	sched        *scheduler.Scheduler
	capturer     *capture.Capturer

	clearDefaults clearstate.Values
	mirrored      map[string]bool

	current  *program.Data
	textures map[gpu.UniformHandle]textureBinding

	closers  []func() error
	disposed atomic.Bool
}

// New creates an engine on dev and binds the default back buffer.
func New(ctx context.Context, dev gpu.Device, opts Options) *Engine {
	e := &Engine{
		dev:           dev,
		log:           logger.Named("engine"),
		programs:      program.NewCollection(),
		resources:     resource.NewRegistry(),
		sched:         scheduler.New(ctx),
		capturer:      opts.Capture,
		clearDefaults: clearstate.DefaultValues(),
		mirrored:      make(map[string]bool, len(opts.MirroredUniforms)),
		textures:      make(map[gpu.UniformHandle]textureBinding),
	}
	if opts.Clear != nil {
		e.clearDefaults = *opts.Clear
	}
	for _, name := range opts.MirroredUniforms {
		e.mirrored[name] = true
	}
	e.frameBuffers = framebuffer.NewManager(dev, opts.Width, opts.Height,
		framebuffer.WithClearValues(e.clearDefaults))

	e.log.Info("engine ready",
		zap.Uint16("width", opts.Width),
		zap.Uint16("height", opts.Height),
		zap.Uint16("max_views", dev.Caps().MaxViews),
		zap.Bool("origin_bottom_left", dev.Caps().OriginBottomLeft))
	return e
}

// Device returns the underlying device.
func (e *Engine) Device() gpu.Device { return e.dev }

// FrameBuffers returns the render target manager.
func (e *Engine) FrameBuffers() *framebuffer.Manager { return e.frameBuffers }

// Context is cancelled when the engine is disposed.
func (e *Engine) Context() context.Context { return e.sched.Context() }

// Dispatch runs fn on the render thread during the next RenderFrame. It is
// safe to call from any goroutine and reports false after Dispose.
func (e *Engine) Dispatch(fn func()) bool { return e.sched.Dispatch(fn) }

// ScheduleRender requests fn to run before the next frame is submitted. It
// is safe to call from any goroutine. The returned id cancels the request.
func (e *Engine) ScheduleRender(fn scheduler.FrameFunc) uint64 {
	return e.sched.RequestAnimationFrame(fn)
}

// CancelRender drops a request made with ScheduleRender.
func (e *Engine) CancelRender(id uint64) { e.sched.Cancel(id) }

// RenderRequested reports whether a frame callback is waiting.
func (e *Engine) RenderRequested() bool { return e.sched.HasFrameRequests() }

// Wake is signalled when work is queued for the render thread.
func (e *Engine) Wake() <-chan struct{} { return e.sched.Wake() }

// RenderFrame runs dispatched work and frame callbacks, then submits the
// frame to the device.
func (e *Engine) RenderFrame(now time.Time) {
	if e.disposed.Load() {
		return
	}
	e.sched.RunPending()
	e.sched.RunFrame(now)
	if e.disposed.Load() {
		return
	}
	e.dev.Frame()
}

// UpdateSize resizes the back buffer. The device drops all view state, so
// every target is moved to a fresh view id when next bound.
func (e *Engine) UpdateSize(width, height uint16) {
	if e.disposed.Load() {
		return
	}
	e.dev.Reset(width, height)
	e.frameBuffers.Reset()
	e.frameBuffers.ResizeBackBuffer(width, height)
	e.log.Debug("back buffer resized", zap.Uint16("width", width), zap.Uint16("height", height))
}

// CreateFrameBuffer creates an off-screen render target with a color
// attachment and optional depth-stencil buffer.
func (e *Engine) CreateFrameBuffer(width, height uint16, depth bool, opts ...framebuffer.Option) (*framebuffer.Data, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	handle, color, err := e.dev.CreateFrameBuffer(width, height, depth)
	if err != nil {
		return nil, fmt.Errorf("creating frame buffer %dx%d: %w", width, height, err)
	}
	opts = append([]framebuffer.Option{
		framebuffer.WithClearValues(e.clearDefaults),
		framebuffer.WithColorTexture(color),
	}, opts...)
	return e.frameBuffers.CreateNew(handle, width, height, opts...), nil
}

// DeleteFrameBuffer destroys a render target.
func (e *Engine) DeleteFrameBuffer(target *framebuffer.Data) {
	if e.disposed.Load() {
		return
	}
	e.frameBuffers.Delete(target)
}

// BindFrameBuffer makes target the destination of clears and draws.
func (e *Engine) BindFrameBuffer(target *framebuffer.Data) {
	if e.disposed.Load() {
		return
	}
	if target == nil || target.Destroyed() {
		e.log.Warn("binding destroyed render target, using back buffer")
		target = e.frameBuffers.BackBuffer()
	}
	e.frameBuffers.Bind(target)
}

// UnbindFrameBuffer returns to the default back buffer.
func (e *Engine) UnbindFrameBuffer(target *framebuffer.Data) {
	if e.disposed.Load() {
		return
	}
	e.frameBuffers.Unbind(target)
}

func (e *Engine) boundClear() *clearstate.ViewClearState {
	if e.disposed.Load() {
		return nil
	}
	return e.frameBuffers.Bound().ViewClearState()
}

// ClearColor sets the clear color of the bound target.
func (e *Engine) ClearColor(r, g, b, a float32) {
	if v := e.boundClear(); v != nil {
		v.UpdateColor(r, g, b, a)
	}
}

// ClearDepth sets the clear depth of the bound target.
func (e *Engine) ClearDepth(depth float32) {
	if v := e.boundClear(); v != nil {
		v.UpdateDepth(depth)
	}
}

// ClearStencil sets the clear stencil value of the bound target.
func (e *Engine) ClearStencil(stencil uint8) {
	if v := e.boundClear(); v != nil {
		v.UpdateStencil(stencil)
	}
}

// Clear clears the bound target this frame.
func (e *Engine) Clear(flags gpu.ClearFlags) {
	if v := e.boundClear(); v != nil {
		v.UpdateFlags(flags)
	}
}

// CreateProgram compiles and links a shader program.
func (e *Engine) CreateProgram(vertexSrc, fragmentSrc string) (*program.Data, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	handle, refl, err := e.dev.CreateProgram(vertexSrc, fragmentSrc)
	if err != nil {
		return nil, fmt.Errorf("creating program: %w", err)
	}
	p := program.New(e.dev, handle, refl, func(name string) bool { return e.mirrored[name] })
	e.programs.Add(p)
	return p, nil
}

// DeleteProgram destroys p. Deleting the current program unsets it.
func (e *Engine) DeleteProgram(p *program.Data) {
	if p == nil {
		return
	}
	if p == e.current {
		e.current = nil
	}
	p.Destroy()
}

// SetProgram selects the program used by uniform setters and Draw.
func (e *Engine) SetProgram(p *program.Data) {
	if p != nil && p.Destroyed() {
		p = nil
	}
	e.current = p
}

// Program returns the current program.
func (e *Engine) Program() *program.Data { return e.current }

func (e *Engine) uniform(name string) (program.UniformInfo, error) {
	if e.current == nil {
		return program.UniformInfo{}, ErrNoProgram
	}
	info, ok := e.current.LookupUniform(name)
	if !ok {
		return program.UniformInfo{}, fmt.Errorf("%w: %q", ErrUnknownUniform, name)
	}
	return info, nil
}

func (e *Engine) stage(name string, data []float32, elements int, matrix bool) error {
	info, err := e.uniform(name)
	if err != nil {
		return err
	}
	e.current.SetUniform(info.Handle, data, matrix && info.YFlip, elements)
	return nil
}

// SetMatrix stages a 4x4 matrix uniform.
func (e *Engine) SetMatrix(name string, m math.Mat4) error {
	return e.stage(name, m[:], 1, true)
}

// SetMatrices stages an array of 4x4 matrices.
func (e *Engine) SetMatrices(name string, ms []math.Mat4) error {
	data := make([]float32, 0, len(ms)*16)
	for _, m := range ms {
		data = append(data, m[:]...)
	}
	return e.stage(name, data, len(ms), true)
}

// SetFloat stages a scalar uniform.
func (e *Engine) SetFloat(name string, v float32) error {
	return e.stage(name, []float32{v, 0, 0, 0}, 1, false)
}

// SetFloatN stages a vector of up to four components.
func (e *Engine) SetFloatN(name string, vs ...float32) error {
	if len(vs) == 0 || len(vs) > 4 {
		return fmt.Errorf("uniform %q: %d components: %w", name, len(vs), gpu.ErrInvalidArgument)
	}
	data := make([]float32, 4)
	copy(data, vs)
	return e.stage(name, data, 1, false)
}

// SetFloatArray stages an array of vectors with the given component count.
// Each element is padded to four floats.
func (e *Engine) SetFloatArray(name string, vs []float32, components int) error {
	if components < 1 || components > 4 || len(vs)%components != 0 {
		return fmt.Errorf("uniform %q: %d floats as vec%d: %w", name, len(vs), components, gpu.ErrInvalidArgument)
	}
	n := len(vs) / components
	data := make([]float32, n*4)
	for i := 0; i < n; i++ {
		copy(data[i*4:], vs[i*components:(i+1)*components])
	}
	return e.stage(name, data, n, false)
}

// SetInt stages an integer uniform.
func (e *Engine) SetInt(name string, v int32) error {
	return e.stage(name, []float32{float32(v), 0, 0, 0}, 1, false)
}

// CreateTexture uploads an RGBA8 texture. rgba may be nil.
func (e *Engine) CreateTexture(width, height uint16, rgba []byte) (*resource.Texture, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	handle, err := e.dev.CreateTexture(width, height, rgba)
	if err != nil {
		return nil, fmt.Errorf("creating texture %dx%d: %w", width, height, err)
	}
	return e.resources.AddTexture(resource.NewTexture(e.dev, handle, width, height)), nil
}

// CreateTextureFromImage uploads img as an RGBA8 texture.
func (e *Engine) CreateTextureFromImage(img image.Image) (*resource.Texture, error) {
	rgba := texture.ToRGBA(img, nil)
	b := rgba.Bounds()
	if b.Dx() > 0xFFFF || b.Dy() > 0xFFFF {
		return nil, fmt.Errorf("texture %dx%d: %w", b.Dx(), b.Dy(), gpu.ErrInvalidArgument)
	}
	return e.CreateTexture(uint16(b.Dx()), uint16(b.Dy()), rgba.Pix)
}

// LoadTexture decodes a PNG, BMP or TGA file and uploads it. A non-nil key
// makes matching pixels transparent.
func (e *Engine) LoadTexture(path string, key *texture.ColorKey) (*resource.Texture, error) {
	img, err := texture.Load(path, key)
	if err != nil {
		return nil, err
	}
	return e.CreateTextureFromImage(img)
}

// DeleteTexture destroys t.
func (e *Engine) DeleteTexture(t *resource.Texture) {
	if t != nil {
		t.Destroy()
	}
}

// SetTexture binds a texture to a sampler of the current program for the
// next Draw.
func (e *Engine) SetTexture(stage uint8, name string, t gpu.TextureHandle) error {
	info, err := e.uniform(name)
	if err != nil {
		return err
	}
	e.textures[info.Handle] = textureBinding{stage: stage, texture: t}
	return nil
}

// CreateVertexBuffer uploads vertex data with the given stride.
func (e *Engine) CreateVertexBuffer(data []byte, stride uint16) (*resource.Buffer, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	handle, err := e.dev.CreateVertexBuffer(data, stride)
	if err != nil {
		return nil, fmt.Errorf("creating vertex buffer: %w", err)
	}
	return e.resources.AddBuffer(resource.NewVertexBuffer(e.dev, handle, stride)), nil
}

// CreateIndexBuffer uploads 16- or 32-bit index data.
func (e *Engine) CreateIndexBuffer(data []byte, index32 bool) (*resource.Buffer, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	handle, err := e.dev.CreateIndexBuffer(data, index32)
	if err != nil {
		return nil, fmt.Errorf("creating index buffer: %w", err)
	}
	return e.resources.AddBuffer(resource.NewIndexBuffer(e.dev, handle, index32)), nil
}

// DeleteBuffer destroys b.
func (e *Engine) DeleteBuffer(b *resource.Buffer) {
	if b != nil {
		b.Destroy()
	}
}

// mirrorY reports whether projection uniforms must be flipped: the bound
// target is sampled later and the device addresses textures from the top.
func (e *Engine) mirrorY() bool {
	return e.frameBuffers.IsRenderingToTarget() && !e.dev.Caps().OriginBottomLeft
}

// Draw submits call with the current program on the bound view. Staged
// uniforms stay set for later draws; texture bindings are consumed.
func (e *Engine) Draw(call gpu.DrawCall) error {
	if e.disposed.Load() {
		return ErrDisposed
	}
	if e.current == nil {
		return ErrNoProgram
	}

	mirror := e.mirrorY()
	e.current.ApplyUniforms(func(h gpu.UniformHandle, v program.UniformValue) {
		data := v.Data
		if v.YFlip && mirror {
			data = program.MirrorY(data, v.ElementLength)
		}
		e.dev.SetUniform(h, data, v.ElementLength)
	})
	for h, t := range e.textures {
		e.dev.SetTexture(t.stage, h, t.texture)
	}
	clear(e.textures)

	e.dev.Submit(e.frameBuffers.Bound().ViewID(), e.current.Handle, call)
	return nil
}

// DrawVertexArray draws count vertices or indices of va starting at first.
func (e *Engine) DrawVertexArray(va *resource.VertexArray, first, count uint32, state uint64) error {
	call := va.DrawCall(first, count)
	call.State = state
	return e.Draw(call)
}

// ReadFrameBuffer reads target back as a top-down image.
func (e *Engine) ReadFrameBuffer(target *framebuffer.Data) (*image.RGBA, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	if target == nil {
		target = e.frameBuffers.BackBuffer()
	}
	// a freed handle may already name a newer target
	if target.Destroyed() {
		return nil, ErrDestroyed
	}
	width, height := target.Size()
	pixels, err := e.dev.ReadPixels(target.Handle(), width, height)
	if err != nil {
		return nil, fmt.Errorf("reading frame buffer: %w", err)
	}
	return capture.Image(pixels, int(width), int(height), e.dev.Caps().OriginBottomLeft)
}

// CaptureFrameBuffer writes target to a PNG and returns the file name. A nil
// target captures the back buffer.
func (e *Engine) CaptureFrameBuffer(target *framebuffer.Data) (string, error) {
	if e.capturer == nil {
		return "", errors.New("engine: capture disabled")
	}
	img, err := e.ReadFrameBuffer(target)
	if err != nil {
		return "", err
	}
	filename, err := e.capturer.SaveImage(img)
	if err != nil {
		return "", fmt.Errorf("capturing frame buffer: %w", err)
	}
	e.log.Info("frame captured", zap.String("file", filename))
	return filename, nil
}

// AddCloser registers fn to run at the end of Dispose. Closers run in
// reverse registration order after the device is closed.
func (e *Engine) AddCloser(fn func() error) {
	e.closers = append(e.closers, fn)
}

// Dispose cancels pending work and destroys every program, resource and
// render target exactly once. A device implementing Close is closed next,
// then the registered closers run. Later calls do nothing.
func (e *Engine) Dispose() error {
	if e.disposed.Swap(true) {
		return nil
	}
	e.sched.Close()

	programs := e.programs.Len()
	textures, buffers := e.resources.Len()
	targets := e.frameBuffers.Len()

	e.current = nil
	clear(e.textures)
	e.programs.Clear()
	e.resources.Clear()
	e.frameBuffers.Close()

	var err error
	if closer, ok := e.dev.(interface{ Close() error }); ok {
		err = multierr.Append(err, closer.Close())
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, e.closers[i]())
	}
	e.closers = nil

	e.log.Info("engine disposed",
		zap.Int("programs", programs),
		zap.Int("textures", textures),
		zap.Int("buffers", buffers),
		zap.Int("targets", targets),
		zap.Error(err))
	return err
}
