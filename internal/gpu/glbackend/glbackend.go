// Package glbackend implements gpu.Device on OpenGL 4.1 core.
//
// View state and draws are recorded as they are submitted and replayed in
// view id order when Frame is called. Every method must run on the thread
// that owns the GL context.
package glbackend

import (
	"fmt"
	"sort"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/nativegfx/internal/gpu"
	"github.com/Faultbox/nativegfx/internal/logger"
)

type viewState struct {
	fb      gpu.FrameBufferHandle
	rect    [4]uint16
	flags   gpu.ClearFlags
	rgba    uint32
	depth   float32
	stencil uint8
	touched bool
	draws   []draw
}

type boundUniform struct {
	data []float32
	num  uint16
}

type boundTexture struct {
	stage   uint8
	texture gpu.TextureHandle
}

type draw struct {
	program  gpu.ProgramHandle
	call     gpu.DrawCall
	uniforms map[gpu.UniformHandle]boundUniform
	textures map[gpu.UniformHandle]boundTexture
}

type frameBuffer struct {
	fbo      uint32
	depthRBO uint32
	color    gpu.TextureHandle
	width    int32
	height   int32
}

type texture struct {
	id    uint32
	owned bool // attachment owned by a frame buffer
}

type buffer struct {
	id      uint32
	index   bool
	index32 bool
	stride  uint16
}

// Device is an OpenGL gpu.Device.
type Device struct {
	log     *zap.Logger
	caps    gpu.Caps
	present func()

	width  uint16
	height uint16
	vao    uint32

	views []viewState

	frameBuffers map[gpu.FrameBufferHandle]*frameBuffer
	programs     map[gpu.ProgramHandle]*program
	textures     map[gpu.TextureHandle]*texture
	buffers      map[gpu.BufferHandle]*buffer

	fbHandles      handleAlloc
	programHandles handleAlloc
	textureHandles handleAlloc
	bufferHandles  handleAlloc

	uniformIDs   map[string]gpu.UniformHandle
	uniformNames []string

	pendingUniforms map[gpu.UniformHandle]boundUniform
	pendingTextures map[gpu.UniformHandle]boundTexture
}

// New creates a device for the current GL context. present is called at the
// end of every Frame, typically to swap the window.
func New(width, height, maxViews uint16, present func()) (*Device, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("initializing OpenGL: %w", err)
	}
	if maxViews == 0 {
		maxViews = 256
	}
	d := &Device{
		log:             logger.Named("gl"),
		caps:            gpu.Caps{MaxViews: maxViews, OriginBottomLeft: true},
		present:         present,
		width:           width,
		height:          height,
		views:           make([]viewState, maxViews),
		frameBuffers:    make(map[gpu.FrameBufferHandle]*frameBuffer),
		programs:        make(map[gpu.ProgramHandle]*program),
		textures:        make(map[gpu.TextureHandle]*texture),
		buffers:         make(map[gpu.BufferHandle]*buffer),
		uniformIDs:      make(map[string]gpu.UniformHandle),
		pendingUniforms: make(map[gpu.UniformHandle]boundUniform),
		pendingTextures: make(map[gpu.UniformHandle]boundTexture),
	}
	d.resetViews()

	gl.GenVertexArrays(1, &d.vao)
	gl.BindVertexArray(d.vao)

	d.log.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
		zap.Uint16("max_views", maxViews))
	return d, nil
}

// Caps implements gpu.Device.
func (d *Device) Caps() gpu.Caps { return d.caps }

func (d *Device) view(id gpu.ViewID) *viewState {
	if int(id) >= len(d.views) {
		d.log.Warn("view out of range", zap.Uint16("view", uint16(id)))
		return nil
	}
	return &d.views[id]
}

func (d *Device) resetViews() {
	for i := range d.views {
		d.views[i] = viewState{fb: gpu.InvalidFrameBuffer}
	}
}

// SetViewFrameBuffer implements gpu.Device.
func (d *Device) SetViewFrameBuffer(id gpu.ViewID, fb gpu.FrameBufferHandle) {
	if v := d.view(id); v != nil {
		v.fb = fb
	}
}

// SetViewRect implements gpu.Device. A zero-sized rect covers the whole
// target.
func (d *Device) SetViewRect(id gpu.ViewID, x, y, width, height uint16) {
	if v := d.view(id); v != nil {
		v.rect = [4]uint16{x, y, width, height}
	}
}

// SetViewClear implements gpu.Device.
func (d *Device) SetViewClear(id gpu.ViewID, flags gpu.ClearFlags, rgba uint32, depth float32, stencil uint8) {
	if v := d.view(id); v != nil {
		v.flags, v.rgba, v.depth, v.stencil = flags, rgba, depth, stencil
	}
}

// Discard implements gpu.Device.
func (d *Device) Discard() {
	clear(d.pendingUniforms)
	clear(d.pendingTextures)
}

// Touch implements gpu.Device.
func (d *Device) Touch(id gpu.ViewID) {
	if v := d.view(id); v != nil {
		v.touched = true
	}
}

// CreateFrameBuffer implements gpu.Device.
func (d *Device) CreateFrameBuffer(width, height uint16, depth bool) (gpu.FrameBufferHandle, gpu.TextureHandle, error) {
	fh, err := d.fbHandles.alloc()
	if err != nil {
		return gpu.InvalidFrameBuffer, gpu.InvalidTexture, err
	}
	th, err := d.textureHandles.alloc()
	if err != nil {
		d.fbHandles.free(fh)
		return gpu.InvalidFrameBuffer, gpu.InvalidTexture, err
	}

	fb := &frameBuffer{width: max(int32(width), 1), height: max(int32(height), 1)}
	var colorID uint32

	gl.GenFramebuffers(1, &fb.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.fbo)

	gl.GenTextures(1, &colorID)
	gl.BindTexture(gl.TEXTURE_2D, colorID)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, fb.width, fb.height, 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, colorID, 0)

	if depth {
		gl.GenRenderbuffers(1, &fb.depthRBO)
		gl.BindRenderbuffer(gl.RENDERBUFFER, fb.depthRBO)
		gl.RenderbufferStorage(gl.RENDERBUFFER, gl.DEPTH24_STENCIL8, fb.width, fb.height)
		gl.FramebufferRenderbuffer(gl.FRAMEBUFFER, gl.DEPTH_STENCIL_ATTACHMENT, gl.RENDERBUFFER, fb.depthRBO)
	}

	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		gl.DeleteTextures(1, &colorID)
		deleteFrameBuffer(fb)
		d.fbHandles.free(fh)
		d.textureHandles.free(th)
		return gpu.InvalidFrameBuffer, gpu.InvalidTexture, fmt.Errorf("framebuffer incomplete: 0x%x", status)
	}

	fb.color = gpu.TextureHandle(th)
	d.textures[fb.color] = &texture{id: colorID, owned: true}
	d.frameBuffers[gpu.FrameBufferHandle(fh)] = fb
	return gpu.FrameBufferHandle(fh), fb.color, nil
}

func deleteFrameBuffer(fb *frameBuffer) {
	if fb.fbo != 0 {
		gl.DeleteFramebuffers(1, &fb.fbo)
		fb.fbo = 0
	}
	if fb.depthRBO != 0 {
		gl.DeleteRenderbuffers(1, &fb.depthRBO)
		fb.depthRBO = 0
	}
}

// DestroyFrameBuffer implements gpu.Device. The color attachment goes with it.
func (d *Device) DestroyFrameBuffer(h gpu.FrameBufferHandle) {
	fb, ok := d.frameBuffers[h]
	if !ok {
		d.log.Warn("destroying unknown frame buffer", zap.Uint16("handle", uint16(h)))
		return
	}
	if t, ok := d.textures[fb.color]; ok {
		gl.DeleteTextures(1, &t.id)
		delete(d.textures, fb.color)
		d.textureHandles.free(uint16(fb.color))
	}
	deleteFrameBuffer(fb)
	delete(d.frameBuffers, h)
	d.fbHandles.free(uint16(h))
}

// CreateTexture implements gpu.Device. rgba may be nil for an uninitialized
// texture.
func (d *Device) CreateTexture(width, height uint16, rgba []byte) (gpu.TextureHandle, error) {
	if rgba != nil && len(rgba) < int(width)*int(height)*4 {
		return gpu.InvalidTexture, fmt.Errorf("texture %dx%d needs %d bytes, got %d: %w",
			width, height, int(width)*int(height)*4, len(rgba), gpu.ErrInvalidArgument)
	}
	h, err := d.textureHandles.alloc()
	if err != nil {
		return gpu.InvalidTexture, err
	}
	t := &texture{}
	gl.GenTextures(1, &t.id)
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	pixels := gl.Ptr(nil)
	if len(rgba) > 0 {
		pixels = gl.Ptr(rgba)
	}
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0, gl.RGBA, gl.UNSIGNED_BYTE, pixels)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	d.textures[gpu.TextureHandle(h)] = t
	return gpu.TextureHandle(h), nil
}

// DestroyTexture implements gpu.Device. Frame buffer attachments are ignored.
func (d *Device) DestroyTexture(h gpu.TextureHandle) {
	t, ok := d.textures[h]
	if !ok || t.owned {
		return
	}
	gl.DeleteTextures(1, &t.id)
	delete(d.textures, h)
	d.textureHandles.free(uint16(h))
}

// CreateVertexBuffer implements gpu.Device.
func (d *Device) CreateVertexBuffer(data []byte, stride uint16) (gpu.BufferHandle, error) {
	return d.createBuffer(data, &buffer{stride: stride}, gl.ARRAY_BUFFER)
}

// CreateIndexBuffer implements gpu.Device.
func (d *Device) CreateIndexBuffer(data []byte, index32 bool) (gpu.BufferHandle, error) {
	return d.createBuffer(data, &buffer{index: true, index32: index32}, gl.ELEMENT_ARRAY_BUFFER)
}

func (d *Device) createBuffer(data []byte, b *buffer, target uint32) (gpu.BufferHandle, error) {
	if len(data) == 0 {
		return gpu.InvalidBuffer, fmt.Errorf("empty buffer: %w", gpu.ErrInvalidArgument)
	}
	h, err := d.bufferHandles.alloc()
	if err != nil {
		return gpu.InvalidBuffer, err
	}
	gl.GenBuffers(1, &b.id)
	gl.BindBuffer(target, b.id)
	gl.BufferData(target, len(data), gl.Ptr(data), gl.STATIC_DRAW)
	gl.BindBuffer(target, 0)

	d.buffers[gpu.BufferHandle(h)] = b
	return gpu.BufferHandle(h), nil
}

// DestroyBuffer implements gpu.Device.
func (d *Device) DestroyBuffer(h gpu.BufferHandle) {
	b, ok := d.buffers[h]
	if !ok {
		return
	}
	gl.DeleteBuffers(1, &b.id)
	delete(d.buffers, h)
	d.bufferHandles.free(uint16(h))
}

// SetUniform implements gpu.Device. The value applies to the next Submit.
func (d *Device) SetUniform(u gpu.UniformHandle, data []float32, num uint16) {
	d.pendingUniforms[u] = boundUniform{data: append([]float32(nil), data...), num: num}
}

// SetTexture implements gpu.Device. The binding applies to the next Submit.
func (d *Device) SetTexture(stage uint8, u gpu.UniformHandle, t gpu.TextureHandle) {
	d.pendingTextures[u] = boundTexture{stage: stage, texture: t}
}

// Submit implements gpu.Device. Pending uniforms and textures are consumed.
func (d *Device) Submit(id gpu.ViewID, p gpu.ProgramHandle, call gpu.DrawCall) {
	v := d.view(id)
	if v == nil {
		d.Discard()
		return
	}
	v.draws = append(v.draws, draw{
		program:  p,
		call:     call,
		uniforms: d.pendingUniforms,
		textures: d.pendingTextures,
	})
	d.pendingUniforms = make(map[gpu.UniformHandle]boundUniform)
	d.pendingTextures = make(map[gpu.UniformHandle]boundTexture)
}

// ReadPixels implements gpu.Device. Rows are returned bottom-up.
func (d *Device) ReadPixels(h gpu.FrameBufferHandle, width, height uint16) ([]byte, error) {
	var fbo uint32
	if h.IsValid() {
		fb, ok := d.frameBuffers[h]
		if !ok {
			return nil, fmt.Errorf("read pixels from %d: %w", h, gpu.ErrUnknownHandle)
		}
		fbo = fb.fbo
	}
	pixels := make([]byte, int(width)*int(height)*4)
	if len(pixels) == 0 {
		return pixels, nil
	}

	var prevFBO int32
	gl.GetIntegerv(gl.FRAMEBUFFER_BINDING, &prevFBO)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fbo)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, int32(width), int32(height), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
	gl.BindFramebuffer(gl.FRAMEBUFFER, uint32(prevFBO))

	return pixels, nil
}

// Frame implements gpu.Device. Views that were touched or drawn to are
// cleared and replayed, then present is called.
func (d *Device) Frame() {
	for _, i := range replayOrder(d.views) {
		v := &d.views[i]
		d.flushView(v)
		v.touched = false
		v.draws = v.draws[:0]
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if d.present != nil {
		d.present()
	}
}

// replayOrder returns the active views with off-screen targets first, each
// group in id order. Targets sampled by back buffer draws are then complete
// within the same frame.
func replayOrder(views []viewState) []int {
	order := make([]int, 0, len(views))
	for pass := 0; pass < 2; pass++ {
		offscreen := pass == 0
		for i := range views {
			v := &views[i]
			if !v.touched && len(v.draws) == 0 {
				continue
			}
			if v.fb.IsValid() == offscreen {
				order = append(order, i)
			}
		}
	}
	return order
}

func (d *Device) flushView(v *viewState) {
	targetW, targetH := int32(d.width), int32(d.height)
	var fbo uint32
	if v.fb.IsValid() {
		fb, ok := d.frameBuffers[v.fb]
		if !ok {
			return
		}
		fbo, targetW, targetH = fb.fbo, fb.width, fb.height
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, fbo)

	x, y, w, h := int32(v.rect[0]), int32(v.rect[1]), int32(v.rect[2]), int32(v.rect[3])
	if w == 0 || h == 0 {
		x, y, w, h = 0, 0, targetW, targetH
	}
	// view rects are top-left based
	y = targetH - y - h
	gl.Viewport(x, y, w, h)
	gl.Scissor(x, y, w, h)

	if v.flags != gpu.ClearNone {
		gl.Enable(gl.SCISSOR_TEST)
		var mask uint32
		if v.flags&gpu.ClearColor != 0 {
			gl.ClearColor(
				float32(v.rgba>>24&0xff)/255,
				float32(v.rgba>>16&0xff)/255,
				float32(v.rgba>>8&0xff)/255,
				float32(v.rgba&0xff)/255)
			mask |= gl.COLOR_BUFFER_BIT
		}
		if v.flags&gpu.ClearDepth != 0 {
			gl.ClearDepth(float64(v.depth))
			gl.DepthMask(true)
			mask |= gl.DEPTH_BUFFER_BIT
		}
		if v.flags&gpu.ClearStencil != 0 {
			gl.ClearStencil(int32(v.stencil))
			mask |= gl.STENCIL_BUFFER_BIT
		}
		gl.Clear(mask)
		gl.Disable(gl.SCISSOR_TEST)
	}

	for _, dr := range v.draws {
		d.execute(dr)
	}
}

// Reset implements gpu.Device.
func (d *Device) Reset(width, height uint16) {
	d.width, d.height = width, height
	d.resetViews()
	d.Discard()
	d.log.Debug("back buffer reset", zap.Uint16("width", width), zap.Uint16("height", height))
}

// Close releases every GL object still alive and reports a pending GL error.
func (d *Device) Close() error {
	handles := make([]gpu.FrameBufferHandle, 0, len(d.frameBuffers))
	for h := range d.frameBuffers {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	for _, h := range handles {
		d.DestroyFrameBuffer(h)
	}
	for h := range d.programs {
		d.DestroyProgram(h)
	}
	for h := range d.textures {
		d.DestroyTexture(h)
	}
	for h := range d.buffers {
		d.DestroyBuffer(h)
	}
	if d.vao != 0 {
		gl.DeleteVertexArrays(1, &d.vao)
		d.vao = 0
	}
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("gl error 0x%x on close", code)
	}
	return nil
}

// handleAlloc hands out 16-bit handles, reusing freed ones first.
type handleAlloc struct {
	next  uint16
	freed []uint16
}

func (a *handleAlloc) alloc() (uint16, error) {
	if n := len(a.freed); n > 0 {
		h := a.freed[n-1]
		a.freed = a.freed[:n-1]
		return h, nil
	}
	if a.next >= gpu.InvalidHandle {
		return gpu.InvalidHandle, gpu.ErrOutOfHandles
	}
	h := a.next
	a.next++
	return h, nil
}

func (a *handleAlloc) free(h uint16) {
	a.freed = append(a.freed, h)
}
