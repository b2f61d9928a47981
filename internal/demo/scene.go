// Package demo is a two-pass scene: a triangle rendered off-screen, then
// shown on the back buffer as a textured quad. The target gets a higher view
// id than the back buffer; the GL device replays off-screen views first, so
// the quad samples the triangle drawn in the same frame.
package demo

import (
	"encoding/binary"
	stdmath "math"
	"time"

	"github.com/Faultbox/nativegfx/internal/engine"
	"github.com/Faultbox/nativegfx/internal/engine/framebuffer"
	"github.com/Faultbox/nativegfx/internal/engine/program"
	"github.com/Faultbox/nativegfx/internal/engine/resource"
	"github.com/Faultbox/nativegfx/internal/gpu"
	"github.com/Faultbox/nativegfx/pkg/math"
)

const targetSize = 256

const triangleVS = `#version 410 core
in vec2 position;
in vec3 color;
uniform mat4 projection;
uniform mat4 world;
out vec3 v_color;
void main() {
	v_color = color;
	gl_Position = projection * world * vec4(position, 0.0, 1.0);
}
`

const triangleFS = `#version 410 core
in vec3 v_color;
out vec4 frag;
void main() {
	frag = vec4(v_color, 1.0);
}
`

const quadVS = `#version 410 core
in vec2 position;
in vec2 uv;
uniform mat4 projection;
out vec2 v_uv;
void main() {
	v_uv = uv;
	gl_Position = projection * vec4(position, 0.0, 1.0);
}
`

const quadFS = `#version 410 core
in vec2 v_uv;
uniform sampler2D albedo;
uniform float strength;
out vec4 frag;
void main() {
	frag = texture(albedo, v_uv) * strength;
}
`

// Scene holds the demo resources.
type Scene struct {
	engine *engine.Engine
	width  uint16
	height uint16

	target   *framebuffer.Data
	triangle *program.Data
	quad     *program.Data

	triangleVerts resource.VertexArray
	quadVerts     resource.VertexArray
}

// NewScene creates the scene resources.
func NewScene(e *engine.Engine, width, height uint16) (*Scene, error) {
	s := &Scene{engine: e, width: width, height: height}

	var err error
	if s.target, err = e.CreateFrameBuffer(targetSize, targetSize, true); err != nil {
		return nil, err
	}
	if s.triangle, err = e.CreateProgram(triangleVS, triangleFS); err != nil {
		return nil, err
	}
	if s.quad, err = e.CreateProgram(quadVS, quadFS); err != nil {
		return nil, err
	}

	tri, err := e.CreateVertexBuffer(floatBytes(
		// x, y, r, g, b
		-0.6, -0.5, 1, 0, 0,
		0.6, -0.5, 0, 1, 0,
		0.0, 0.6, 0, 0, 1,
	), 5*4)
	if err != nil {
		return nil, err
	}
	s.triangleVerts.VertexBuffers = []resource.VertexBinding{{Buffer: tri}}

	quad, err := e.CreateVertexBuffer(floatBytes(
		// x, y, u, v
		-0.8, -0.8, 0, 0,
		0.8, -0.8, 1, 0,
		0.8, 0.8, 1, 1,
		-0.8, 0.8, 0, 1,
	), 4*4)
	if err != nil {
		return nil, err
	}
	indices, err := e.CreateIndexBuffer(uint16Bytes(0, 1, 2, 0, 2, 3), false)
	if err != nil {
		return nil, err
	}
	s.quadVerts.VertexBuffers = []resource.VertexBinding{{Buffer: quad}}
	s.quadVerts.IndexBuffer = indices

	return s, nil
}

// Target returns the off-screen render target.
func (s *Scene) Target() *framebuffer.Data { return s.target }

// Resize records the new back buffer size.
func (s *Scene) Resize(width, height uint16) {
	s.width, s.height = width, height
}

// Render submits one frame. elapsed drives the animation.
func (s *Scene) Render(elapsed time.Duration) error {
	e := s.engine

	// pass 1: triangle into the off-screen target
	e.BindFrameBuffer(s.target)
	e.ClearColor(0.1, 0.1, 0.1, 1)
	e.Clear(gpu.ClearColor | gpu.ClearDepth)

	e.SetProgram(s.triangle)
	angle := float32(elapsed.Seconds())
	if err := e.SetMatrix("projection", math.Ortho(-1, 1, -1, 1, -1, 1)); err != nil {
		return err
	}
	if err := e.SetMatrix("world", math.RotateZ(angle)); err != nil {
		return err
	}
	if err := e.DrawVertexArray(&s.triangleVerts, 0, 3, gpu.StateDefault); err != nil {
		return err
	}

	// pass 2: target onto the back buffer
	e.UnbindFrameBuffer(s.target)
	e.Clear(gpu.ClearColor | gpu.ClearDepth)

	e.SetProgram(s.quad)
	aspect := float32(s.width) / float32(max(s.height, 1))
	if err := e.SetMatrix("projection", math.Ortho(-aspect, aspect, -1, 1, -1, 1)); err != nil {
		return err
	}
	if err := e.SetFloat("strength", 1); err != nil {
		return err
	}
	if err := e.SetTexture(0, "albedo", s.target.ColorTexture()); err != nil {
		return err
	}
	return e.DrawVertexArray(&s.quadVerts, 0, 6, gpu.StateBlendAlpha)
}

func floatBytes(vs ...float32) []byte {
	out := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], stdmath.Float32bits(v))
	}
	return out
}

func uint16Bytes(vs ...uint16) []byte {
	out := make([]byte, len(vs)*2)
	for i, v := range vs {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}
