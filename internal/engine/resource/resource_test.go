package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/nativegfx/internal/gpu"
)

func TestTextureDestroyOnce(t *testing.T) {
	dev := gpu.NewRecorder(gpu.Caps{}, 1, 1)
	r := NewRegistry()
	h, err := dev.CreateTexture(4, 4, nil)
	require.NoError(t, err)

	tex := r.AddTexture(NewTexture(dev, h, 4, 4))
	tex.Destroy()
	tex.Destroy()
	r.Clear()

	assert.True(t, tex.Destroyed())
	assert.Equal(t, 1, dev.TextureDestroyCount(h))
	textures, _ := r.Len()
	assert.Zero(t, textures)
}

func TestInvalidHandleNotDestroyed(t *testing.T) {
	dev := gpu.NewRecorder(gpu.Caps{}, 1, 1)
	tex := NewTexture(dev, gpu.InvalidTexture, 0, 0)
	tex.Destroy()

	assert.Zero(t, dev.Count(gpu.OpDestroyTexture))
}

func TestRegistryClear(t *testing.T) {
	dev := gpu.NewRecorder(gpu.Caps{}, 1, 1)
	r := NewRegistry()

	vb, err := dev.CreateVertexBuffer(make([]byte, 48), 12)
	require.NoError(t, err)
	ib, err := dev.CreateIndexBuffer(make([]byte, 12), false)
	require.NoError(t, err)
	th, err := dev.CreateTexture(2, 2, make([]byte, 16))
	require.NoError(t, err)

	vertices := r.AddBuffer(NewVertexBuffer(dev, vb, 12))
	indices := r.AddBuffer(NewIndexBuffer(dev, ib, false))
	r.AddTexture(NewTexture(dev, th, 2, 2))

	textures, buffers := r.Len()
	assert.Equal(t, 1, textures)
	assert.Equal(t, 2, buffers)

	indices.Destroy()
	_, buffers = r.Len()
	assert.Equal(t, 1, buffers)

	r.Clear()

	assert.True(t, vertices.Destroyed())
	assert.Equal(t, 1, dev.BufferDestroyCount(vb))
	assert.Equal(t, 1, dev.BufferDestroyCount(ib))
	assert.Equal(t, 1, dev.TextureDestroyCount(th))
	_, _, liveTextures, liveBuffers := dev.LiveHandles()
	assert.Zero(t, liveTextures)
	assert.Zero(t, liveBuffers)
}

func TestVertexArrayDrawCall(t *testing.T) {
	dev := gpu.NewRecorder(gpu.Caps{}, 1, 1)
	vb0 := NewVertexBuffer(dev, 3, 12)
	vb1 := NewVertexBuffer(dev, 4, 8)
	ib := NewIndexBuffer(dev, 7, true)

	va := &VertexArray{
		IndexBuffer:   ib,
		VertexBuffers: []VertexBinding{{Buffer: vb0}, {Buffer: vb1, StartVertex: 2}},
	}

	call := va.DrawCall(6, 36)
	assert.Equal(t, gpu.BufferHandle(7), call.IndexBuffer)
	assert.Equal(t, []gpu.BufferHandle{3, 4}, call.VertexBuffers)
	assert.Equal(t, uint32(6), call.First)
	assert.Equal(t, uint32(36), call.Count)

	vb1.Destroy()
	ib.Destroy()
	call = va.DrawCall(0, 3)
	assert.Equal(t, gpu.InvalidBuffer, call.IndexBuffer)
	assert.Equal(t, []gpu.BufferHandle{3}, call.VertexBuffers)
}
