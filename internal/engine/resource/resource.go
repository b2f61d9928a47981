// Package resource wraps texture and buffer handles so each is destroyed
// exactly once.
package resource

import (
	"sync/atomic"

	"github.com/Faultbox/nativegfx/internal/gpu"
	"github.com/Faultbox/nativegfx/pkg/weaktable"
)

// Texture is a GPU texture and its sampling parameters.
type Texture struct {
	dev    gpu.Device
	Handle gpu.TextureHandle
	Width  uint16
	Height uint16
	// Flags holds backend sampler flags (filtering, wrap modes).
	Flags            uint32
	AnisotropicLevel uint8

	ticket   *weaktable.Ticket
	disposed atomic.Bool
}

// NewTexture wraps an existing texture handle.
func NewTexture(dev gpu.Device, handle gpu.TextureHandle, width, height uint16) *Texture {
	return &Texture{dev: dev, Handle: handle, Width: width, Height: height}
}

// Destroy destroys the texture. Only the first call has any effect.
func (t *Texture) Destroy() {
	if t.disposed.Swap(true) {
		return
	}
	t.ticket.Release()
	if t.Handle.IsValid() {
		t.dev.DestroyTexture(t.Handle)
	}
}

// Destroyed reports whether Destroy has run.
func (t *Texture) Destroyed() bool { return t.disposed.Load() }

// Buffer is a vertex or index buffer.
type Buffer struct {
	dev     gpu.Device
	Handle  gpu.BufferHandle
	Index   bool
	Index32 bool
	// Stride is the vertex size in bytes; zero for index buffers.
	Stride uint16

	ticket   *weaktable.Ticket
	disposed atomic.Bool
}

// NewVertexBuffer wraps a vertex buffer handle.
func NewVertexBuffer(dev gpu.Device, handle gpu.BufferHandle, stride uint16) *Buffer {
	return &Buffer{dev: dev, Handle: handle, Stride: stride}
}

// NewIndexBuffer wraps an index buffer handle.
func NewIndexBuffer(dev gpu.Device, handle gpu.BufferHandle, index32 bool) *Buffer {
	return &Buffer{dev: dev, Handle: handle, Index: true, Index32: index32}
}

// Destroy destroys the buffer. Only the first call has any effect.
func (b *Buffer) Destroy() {
	if b.disposed.Swap(true) {
		return
	}
	b.ticket.Release()
	if b.Handle.IsValid() {
		b.dev.DestroyBuffer(b.Handle)
	}
}

// Destroyed reports whether Destroy has run.
func (b *Buffer) Destroyed() bool { return b.disposed.Load() }

// VertexBinding is one vertex buffer bound to a vertex array.
type VertexBinding struct {
	Buffer      *Buffer
	StartVertex uint32
}

// VertexArray groups the buffers a draw reads from. It does not own them.
type VertexArray struct {
	IndexBuffer   *Buffer
	VertexBuffers []VertexBinding
}

// DrawCall builds the draw arguments for this vertex array. Destroyed
// buffers are left out.
func (va *VertexArray) DrawCall(first, count uint32) gpu.DrawCall {
	call := gpu.DrawCall{IndexBuffer: gpu.InvalidBuffer, First: first, Count: count}
	if va.IndexBuffer != nil && !va.IndexBuffer.Destroyed() {
		call.IndexBuffer = va.IndexBuffer.Handle
	}
	for _, vb := range va.VertexBuffers {
		if vb.Buffer != nil && !vb.Buffer.Destroyed() {
			call.VertexBuffers = append(call.VertexBuffers, vb.Buffer.Handle)
		}
	}
	return call
}

// Registry owns textures and buffers until they are deleted or the registry
// is cleared.
type Registry struct {
	textures *weaktable.Table[*Texture]
	buffers  *weaktable.Table[*Buffer]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		textures: weaktable.New(func(t *Texture) { t.Destroy() }),
		buffers:  weaktable.New(func(b *Buffer) { b.Destroy() }),
	}
}

// AddTexture transfers ownership of t to the registry.
func (r *Registry) AddTexture(t *Texture) *Texture {
	t.ticket = r.textures.Insert(t)
	return t
}

// AddBuffer transfers ownership of b to the registry.
func (r *Registry) AddBuffer(b *Buffer) *Buffer {
	b.ticket = r.buffers.Insert(b)
	return b
}

// Len returns the number of live textures and buffers.
func (r *Registry) Len() (textures, buffers int) {
	return r.textures.Len(), r.buffers.Len()
}

// Clear destroys everything the registry owns.
func (r *Registry) Clear() {
	r.textures.Clear()
	r.buffers.Clear()
}
