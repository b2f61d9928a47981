package gpu

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Op names a recorded device command.
type Op uint8

const (
	OpSetViewFrameBuffer Op = iota + 1
	OpSetViewRect
	OpSetViewClear
	OpDiscard
	OpTouch
	OpCreateFrameBuffer
	OpDestroyFrameBuffer
	OpCreateProgram
	OpDestroyProgram
	OpCreateTexture
	OpDestroyTexture
	OpCreateBuffer
	OpDestroyBuffer
	OpSetUniform
	OpSetTexture
	OpSubmit
	OpReadPixels
	OpFrame
	OpReset
)

var opNames = map[Op]string{
	OpSetViewFrameBuffer: "SetViewFrameBuffer",
	OpSetViewRect:        "SetViewRect",
	OpSetViewClear:       "SetViewClear",
	OpDiscard:            "Discard",
	OpTouch:              "Touch",
	OpCreateFrameBuffer:  "CreateFrameBuffer",
	OpDestroyFrameBuffer: "DestroyFrameBuffer",
	OpCreateProgram:      "CreateProgram",
	OpDestroyProgram:     "DestroyProgram",
	OpCreateTexture:      "CreateTexture",
	OpDestroyTexture:     "DestroyTexture",
	OpCreateBuffer:       "CreateBuffer",
	OpDestroyBuffer:      "DestroyBuffer",
	OpSetUniform:         "SetUniform",
	OpSetTexture:         "SetTexture",
	OpSubmit:             "Submit",
	OpReadPixels:         "ReadPixels",
	OpFrame:              "Frame",
	OpReset:              "Reset",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Command is one recorded device call. Only the fields relevant to Op are set.
type Command struct {
	Op          Op
	View        ViewID
	FrameBuffer FrameBufferHandle
	Program     ProgramHandle
	Texture     TextureHandle
	Buffer      BufferHandle
	Uniform     UniformHandle
	Rect        [4]uint16
	Flags       ClearFlags
	Color       uint32
	Depth       float32
	Stencil     uint8
	Data        []float32
	Num         uint16
	Call        DrawCall
}

// Recorder is a headless Device that records every command it receives.
// It backs tests and headless runs.
type Recorder struct {
	mu sync.Mutex

	caps   Caps
	width  uint16
	height uint16

	commands []Command
	frames   int

	nextFrameBuffer uint16
	nextProgram     uint16
	nextTexture     uint16
	nextBuffer      uint16

	frameBuffers map[FrameBufferHandle][2]uint16
	attachments  map[FrameBufferHandle]TextureHandle
	programs     map[ProgramHandle]bool
	textures     map[TextureHandle]bool
	buffers      map[BufferHandle]bool
	uniforms     map[string]UniformHandle
	destroyed    map[string]int
}

// NewRecorder creates a recorder with the given limits and back buffer size.
func NewRecorder(caps Caps, width, height uint16) *Recorder {
	if caps.MaxViews == 0 {
		caps.MaxViews = 256
	}
	return &Recorder{
		caps:         caps,
		width:        width,
		height:       height,
		frameBuffers: make(map[FrameBufferHandle][2]uint16),
		attachments:  make(map[FrameBufferHandle]TextureHandle),
		programs:     make(map[ProgramHandle]bool),
		textures:     make(map[TextureHandle]bool),
		buffers:      make(map[BufferHandle]bool),
		uniforms:     make(map[string]UniformHandle),
		destroyed:    make(map[string]int),
	}
}

func (r *Recorder) record(c Command) {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()
}

// Caps implements Device.
func (r *Recorder) Caps() Caps { return r.caps }

// Size returns the current back buffer size.
func (r *Recorder) Size() (width, height uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// SetViewFrameBuffer implements Device.
func (r *Recorder) SetViewFrameBuffer(view ViewID, fb FrameBufferHandle) {
	r.record(Command{Op: OpSetViewFrameBuffer, View: view, FrameBuffer: fb})
}

// SetViewRect implements Device.
func (r *Recorder) SetViewRect(view ViewID, x, y, width, height uint16) {
	r.record(Command{Op: OpSetViewRect, View: view, Rect: [4]uint16{x, y, width, height}})
}

// SetViewClear implements Device.
func (r *Recorder) SetViewClear(view ViewID, flags ClearFlags, rgba uint32, depth float32, stencil uint8) {
	r.record(Command{Op: OpSetViewClear, View: view, Flags: flags, Color: rgba, Depth: depth, Stencil: stencil})
}

// Discard implements Device.
func (r *Recorder) Discard() { r.record(Command{Op: OpDiscard}) }

// Touch implements Device.
func (r *Recorder) Touch(view ViewID) { r.record(Command{Op: OpTouch, View: view}) }

// CreateFrameBuffer implements Device.
func (r *Recorder) CreateFrameBuffer(width, height uint16, depth bool) (FrameBufferHandle, TextureHandle, error) {
	if width == 0 || height == 0 {
		return InvalidFrameBuffer, InvalidTexture, fmt.Errorf("frame buffer %dx%d: %w", width, height, ErrInvalidArgument)
	}
	r.mu.Lock()
	if r.nextFrameBuffer == InvalidHandle || r.nextTexture == InvalidHandle {
		r.mu.Unlock()
		return InvalidFrameBuffer, InvalidTexture, ErrOutOfHandles
	}
	fb := FrameBufferHandle(r.nextFrameBuffer)
	r.nextFrameBuffer++
	tex := TextureHandle(r.nextTexture)
	r.nextTexture++
	r.frameBuffers[fb] = [2]uint16{width, height}
	r.textures[tex] = true
	r.attachments[fb] = tex
	r.mu.Unlock()

	r.record(Command{Op: OpCreateFrameBuffer, FrameBuffer: fb, Texture: tex, Rect: [4]uint16{0, 0, width, height}})
	return fb, tex, nil
}

// DestroyFrameBuffer implements Device. The color attachment goes with it.
func (r *Recorder) DestroyFrameBuffer(fb FrameBufferHandle) {
	r.mu.Lock()
	delete(r.frameBuffers, fb)
	if tex, ok := r.attachments[fb]; ok {
		delete(r.textures, tex)
		delete(r.attachments, fb)
	}
	r.destroyed[destroyKey("fb", uint16(fb))]++
	r.mu.Unlock()
	r.record(Command{Op: OpDestroyFrameBuffer, FrameBuffer: fb})
}

// CreateProgram implements Device. Reflection is derived from the
// `attribute`/`in` and `uniform` declarations of the sources; uniforms with
// the same name share one handle across programs.
func (r *Recorder) CreateProgram(vertexSrc, fragmentSrc string) (ProgramHandle, ProgramReflection, error) {
	if strings.TrimSpace(vertexSrc) == "" || strings.TrimSpace(fragmentSrc) == "" {
		return InvalidProgram, ProgramReflection{}, fmt.Errorf("empty shader source: %w", ErrInvalidArgument)
	}

	r.mu.Lock()
	if r.nextProgram == InvalidHandle {
		r.mu.Unlock()
		return InvalidProgram, ProgramReflection{}, ErrOutOfHandles
	}
	p := ProgramHandle(r.nextProgram)
	r.nextProgram++
	r.programs[p] = true

	refl := ProgramReflection{Attributes: parseAttributes(vertexSrc)}
	for _, stage := range []struct {
		src   string
		stage Stage
	}{{vertexSrc, StageVertex}, {fragmentSrc, StageFragment}} {
		for _, u := range DeclaredUniforms(stage.src) {
			h, ok := r.uniforms[u.Name]
			if !ok {
				h = UniformHandle(len(r.uniforms))
				r.uniforms[u.Name] = h
			}
			u.Handle = h
			u.Stage = stage.stage
			refl.Uniforms = append(refl.Uniforms, u)
		}
	}
	r.mu.Unlock()

	r.record(Command{Op: OpCreateProgram, Program: p})
	return p, refl, nil
}

// DestroyProgram implements Device.
func (r *Recorder) DestroyProgram(p ProgramHandle) {
	r.mu.Lock()
	delete(r.programs, p)
	r.destroyed[destroyKey("program", uint16(p))]++
	r.mu.Unlock()
	r.record(Command{Op: OpDestroyProgram, Program: p})
}

// CreateTexture implements Device.
func (r *Recorder) CreateTexture(width, height uint16, rgba []byte) (TextureHandle, error) {
	if width == 0 || height == 0 {
		return InvalidTexture, fmt.Errorf("texture %dx%d: %w", width, height, ErrInvalidArgument)
	}
	if rgba != nil && len(rgba) != int(width)*int(height)*4 {
		return InvalidTexture, fmt.Errorf("texture data size %d for %dx%d: %w", len(rgba), width, height, ErrInvalidArgument)
	}
	r.mu.Lock()
	if r.nextTexture == InvalidHandle {
		r.mu.Unlock()
		return InvalidTexture, ErrOutOfHandles
	}
	t := TextureHandle(r.nextTexture)
	r.nextTexture++
	r.textures[t] = true
	r.mu.Unlock()

	r.record(Command{Op: OpCreateTexture, Texture: t, Rect: [4]uint16{0, 0, width, height}})
	return t, nil
}

// DestroyTexture implements Device.
func (r *Recorder) DestroyTexture(t TextureHandle) {
	r.mu.Lock()
	delete(r.textures, t)
	r.destroyed[destroyKey("texture", uint16(t))]++
	r.mu.Unlock()
	r.record(Command{Op: OpDestroyTexture, Texture: t})
}

// CreateVertexBuffer implements Device.
func (r *Recorder) CreateVertexBuffer(data []byte, stride uint16) (BufferHandle, error) {
	if stride == 0 || len(data)%int(stride) != 0 {
		return InvalidBuffer, fmt.Errorf("vertex buffer of %d bytes with stride %d: %w", len(data), stride, ErrInvalidArgument)
	}
	return r.createBuffer()
}

// CreateIndexBuffer implements Device.
func (r *Recorder) CreateIndexBuffer(data []byte, index32 bool) (BufferHandle, error) {
	size := 2
	if index32 {
		size = 4
	}
	if len(data)%size != 0 {
		return InvalidBuffer, fmt.Errorf("index buffer of %d bytes: %w", len(data), ErrInvalidArgument)
	}
	return r.createBuffer()
}

func (r *Recorder) createBuffer() (BufferHandle, error) {
	r.mu.Lock()
	if r.nextBuffer == InvalidHandle {
		r.mu.Unlock()
		return InvalidBuffer, ErrOutOfHandles
	}
	b := BufferHandle(r.nextBuffer)
	r.nextBuffer++
	r.buffers[b] = true
	r.mu.Unlock()

	r.record(Command{Op: OpCreateBuffer, Buffer: b})
	return b, nil
}

// DestroyBuffer implements Device.
func (r *Recorder) DestroyBuffer(b BufferHandle) {
	r.mu.Lock()
	delete(r.buffers, b)
	r.destroyed[destroyKey("buffer", uint16(b))]++
	r.mu.Unlock()
	r.record(Command{Op: OpDestroyBuffer, Buffer: b})
}

// SetUniform implements Device.
func (r *Recorder) SetUniform(u UniformHandle, data []float32, num uint16) {
	r.record(Command{Op: OpSetUniform, Uniform: u, Data: append([]float32(nil), data...), Num: num})
}

// SetTexture implements Device.
func (r *Recorder) SetTexture(stage uint8, u UniformHandle, t TextureHandle) {
	r.record(Command{Op: OpSetTexture, Uniform: u, Texture: t, Num: uint16(stage)})
}

// Submit implements Device.
func (r *Recorder) Submit(view ViewID, p ProgramHandle, call DrawCall) {
	r.record(Command{Op: OpSubmit, View: view, Program: p, Call: call})
}

// ReadPixels implements Device. The recorder has no pixels; it returns a
// zeroed buffer of the right size.
func (r *Recorder) ReadPixels(fb FrameBufferHandle, width, height uint16) ([]byte, error) {
	r.mu.Lock()
	_, ok := r.frameBuffers[fb]
	r.mu.Unlock()
	if fb.IsValid() && !ok {
		return nil, fmt.Errorf("read pixels from frame buffer %d: %w", fb, ErrUnknownHandle)
	}
	r.record(Command{Op: OpReadPixels, FrameBuffer: fb, Rect: [4]uint16{0, 0, width, height}})
	return make([]byte, int(width)*int(height)*4), nil
}

// Frame implements Device.
func (r *Recorder) Frame() {
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
	r.record(Command{Op: OpFrame})
}

// Reset implements Device.
func (r *Recorder) Reset(width, height uint16) {
	r.mu.Lock()
	r.width, r.height = width, height
	r.mu.Unlock()
	r.record(Command{Op: OpReset, Rect: [4]uint16{0, 0, width, height}})
}

// Commands returns a copy of the command log.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// CommandsFor returns the recorded commands of one op addressed to a view.
func (r *Recorder) CommandsFor(op Op, view ViewID) []Command {
	var out []Command
	for _, c := range r.Commands() {
		if c.Op == op && c.View == view {
			out = append(out, c)
		}
	}
	return out
}

// CommandsOf returns the recorded commands of one op.
func (r *Recorder) CommandsOf(op Op) []Command {
	var out []Command
	for _, c := range r.Commands() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many commands of op were recorded.
func (r *Recorder) Count(op Op) int {
	n := 0
	for _, c := range r.Commands() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ClearLog forgets all recorded commands. Handle state is kept.
func (r *Recorder) ClearLog() {
	r.mu.Lock()
	r.commands = nil
	r.mu.Unlock()
}

// Frames returns the number of Frame calls.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// FrameBufferDestroyCount returns how many times fb was destroyed.
func (r *Recorder) FrameBufferDestroyCount(fb FrameBufferHandle) int {
	return r.destroyCount("fb", uint16(fb))
}

// ProgramDestroyCount returns how many times p was destroyed.
func (r *Recorder) ProgramDestroyCount(p ProgramHandle) int {
	return r.destroyCount("program", uint16(p))
}

// TextureDestroyCount returns how many times t was destroyed.
func (r *Recorder) TextureDestroyCount(t TextureHandle) int {
	return r.destroyCount("texture", uint16(t))
}

// BufferDestroyCount returns how many times b was destroyed.
func (r *Recorder) BufferDestroyCount(b BufferHandle) int {
	return r.destroyCount("buffer", uint16(b))
}

func (r *Recorder) destroyCount(kind string, h uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed[destroyKey(kind, h)]
}

// LiveHandles returns the number of frame buffers, programs, textures and
// buffers that were created and not yet destroyed.
func (r *Recorder) LiveHandles() (frameBuffers, programs, textures, buffers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frameBuffers), len(r.programs), len(r.textures), len(r.buffers)
}

// UniformNames returns the names of all uniforms created so far, sorted.
func (r *Recorder) UniformNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.uniforms))
	for n := range r.uniforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func destroyKey(kind string, h uint16) string {
	return kind + ":" + strconv.Itoa(int(h))
}
