// Package gpu defines the view-based graphics submission capability the
// render core drives, plus a headless recording implementation.
package gpu

import "errors"

// InvalidHandle marks a handle that refers to no GPU object.
const InvalidHandle = 0xFFFF

// ViewID identifies one hardware view slot.
type ViewID uint16

// FrameBufferHandle identifies a GPU frame buffer. InvalidFrameBuffer denotes
// the default back buffer.
type FrameBufferHandle uint16

// ProgramHandle identifies a linked shader program.
type ProgramHandle uint16

// TextureHandle identifies a GPU texture.
type TextureHandle uint16

// UniformHandle identifies a uniform slot of a program.
type UniformHandle uint16

// BufferHandle identifies a vertex or index buffer.
type BufferHandle uint16

const (
	InvalidFrameBuffer FrameBufferHandle = InvalidHandle
	InvalidProgram     ProgramHandle     = InvalidHandle
	InvalidTexture     TextureHandle     = InvalidHandle
	InvalidUniform     UniformHandle     = InvalidHandle
	InvalidBuffer      BufferHandle      = InvalidHandle
)

// IsValid reports whether the handle refers to a frame buffer.
func (h FrameBufferHandle) IsValid() bool { return h != InvalidFrameBuffer }

// IsValid reports whether the handle refers to a program.
func (h ProgramHandle) IsValid() bool { return h != InvalidProgram }

// IsValid reports whether the handle refers to a texture.
func (h TextureHandle) IsValid() bool { return h != InvalidTexture }

// IsValid reports whether the handle refers to a buffer.
func (h BufferHandle) IsValid() bool { return h != InvalidBuffer }

// ClearFlags selects which attachments a view clear touches.
type ClearFlags uint16

const (
	ClearColor ClearFlags = 1 << iota
	ClearDepth
	ClearStencil

	ClearNone ClearFlags = 0
)

// Stage is the shader stage a uniform belongs to.
type Stage uint8

const (
	StageVertex Stage = iota
	StageFragment
)

// Caps describes backend limits.
type Caps struct {
	// MaxViews bounds the number of view slots. Valid ids are [0, MaxViews).
	MaxViews uint16
	// OriginBottomLeft is true when render target textures are addressed from
	// the bottom-left corner (OpenGL). Backends where it is false need
	// projection matrices mirrored when rendering into a sampled target.
	OriginBottomLeft bool
}

// UniformDesc describes one active uniform reported by program reflection.
type UniformDesc struct {
	Name   string
	Stage  Stage
	Handle UniformHandle
	Count  uint16
}

// ProgramReflection lists what a linked program exposes.
type ProgramReflection struct {
	Attributes map[string]uint32
	Uniforms   []UniformDesc
}

// Render state bits for DrawCall.State.
const (
	StateDepthTest uint64 = 1 << iota
	StateBlendAlpha

	StateDefault = StateDepthTest
)

// DrawCall carries the per-draw arguments consumed by Submit.
type DrawCall struct {
	VertexBuffers []BufferHandle
	IndexBuffer   BufferHandle
	First         uint32
	Count         uint32
	State         uint64
}

// Device is the command-buffer graphics API. All methods are called on the
// render thread.
type Device interface {
	Caps() Caps

	SetViewFrameBuffer(view ViewID, fb FrameBufferHandle)
	SetViewRect(view ViewID, x, y, width, height uint16)
	SetViewClear(view ViewID, flags ClearFlags, rgba uint32, depth float32, stencil uint8)
	// Discard drops any state set since the last submit.
	Discard()
	// Touch marks a view as used so it is cleared even when nothing is drawn.
	Touch(view ViewID)

	// CreateFrameBuffer returns the frame buffer and its color attachment. The
	// attachment is owned by the frame buffer and destroyed with it.
	CreateFrameBuffer(width, height uint16, depth bool) (FrameBufferHandle, TextureHandle, error)
	DestroyFrameBuffer(fb FrameBufferHandle)

	CreateProgram(vertexSrc, fragmentSrc string) (ProgramHandle, ProgramReflection, error)
	DestroyProgram(p ProgramHandle)

	CreateTexture(width, height uint16, rgba []byte) (TextureHandle, error)
	DestroyTexture(t TextureHandle)

	CreateVertexBuffer(data []byte, stride uint16) (BufferHandle, error)
	CreateIndexBuffer(data []byte, index32 bool) (BufferHandle, error)
	DestroyBuffer(b BufferHandle)

	SetUniform(u UniformHandle, data []float32, num uint16)
	SetTexture(stage uint8, u UniformHandle, t TextureHandle)
	Submit(view ViewID, p ProgramHandle, call DrawCall)

	ReadPixels(fb FrameBufferHandle, width, height uint16) ([]byte, error)
	// Frame flushes all submitted views to the screen.
	Frame()
	// Reset resizes the back buffer. All view state is invalidated.
	Reset(width, height uint16)
}

// Errors returned by devices.
var (
	ErrOutOfHandles    = errors.New("gpu: out of handles")
	ErrUnknownHandle   = errors.New("gpu: unknown handle")
	ErrInvalidArgument = errors.New("gpu: invalid argument")
)
