// Package program holds per-shader-program metadata and the staged uniform
// values that are submitted with the next draw.
package program

import (
	"sort"
	"sync/atomic"

	"github.com/Faultbox/nativegfx/internal/gpu"
	"github.com/Faultbox/nativegfx/pkg/math"
	"github.com/Faultbox/nativegfx/pkg/weaktable"
)

// UniformInfo describes one uniform of a program.
type UniformInfo struct {
	Stage  gpu.Stage
	Handle gpu.UniformHandle
	// YFlip marks values that must be mirrored vertically before submission
	// when the backend's render target origin differs.
	YFlip bool
}

// UniformValue is a staged uniform write.
type UniformValue struct {
	Data []float32
	// ElementLength counts vectors or matrices, not floats.
	ElementLength uint16
	YFlip         bool
}

// Data is a linked program and its staged uniforms.
type Data struct {
	dev    gpu.Device
	Handle gpu.ProgramHandle

	VertexAttributeLocations map[string]uint32
	VertexUniformInfos       map[string]UniformInfo
	FragmentUniformInfos     map[string]UniformInfo

	uniforms map[gpu.UniformHandle]*UniformValue

	ticket   *weaktable.Ticket
	disposed atomic.Bool
}

// New wraps a linked program. mirrored reports which uniform names hold
// values that need a vertical flip; it may be nil.
func New(dev gpu.Device, handle gpu.ProgramHandle, refl gpu.ProgramReflection, mirrored func(name string) bool) *Data {
	p := &Data{
		dev:                      dev,
		Handle:                   handle,
		VertexAttributeLocations: make(map[string]uint32, len(refl.Attributes)),
		VertexUniformInfos:       make(map[string]UniformInfo),
		FragmentUniformInfos:     make(map[string]UniformInfo),
		uniforms:                 make(map[gpu.UniformHandle]*UniformValue),
	}
	for name, loc := range refl.Attributes {
		p.VertexAttributeLocations[name] = loc
	}
	for _, u := range refl.Uniforms {
		info := UniformInfo{
			Stage:  u.Stage,
			Handle: u.Handle,
			YFlip:  mirrored != nil && mirrored(u.Name),
		}
		if u.Stage == gpu.StageFragment {
			p.FragmentUniformInfos[u.Name] = info
		} else {
			p.VertexUniformInfos[u.Name] = info
		}
	}
	return p
}

// LookupUniform finds a uniform by name, vertex stage first.
func (p *Data) LookupUniform(name string) (UniformInfo, bool) {
	if info, ok := p.VertexUniformInfos[name]; ok {
		return info, true
	}
	info, ok := p.FragmentUniformInfos[name]
	return info, ok
}

// SetUniform stages a value for handle, replacing any earlier pending value.
// elementLength counts vectors or matrices in data.
func (p *Data) SetUniform(handle gpu.UniformHandle, data []float32, yFlip bool, elementLength int) {
	v, ok := p.uniforms[handle]
	if !ok {
		v = &UniformValue{}
		p.uniforms[handle] = v
	}
	v.Data = append(v.Data[:0], data...)
	v.ElementLength = uint16(elementLength)
	v.YFlip = yFlip
}

// Uniform returns a copy of the staged value for handle.
func (p *Data) Uniform(handle gpu.UniformHandle) (UniformValue, bool) {
	v, ok := p.uniforms[handle]
	if !ok {
		return UniformValue{}, false
	}
	return UniformValue{
		Data:          append([]float32(nil), v.Data...),
		ElementLength: v.ElementLength,
		YFlip:         v.YFlip,
	}, true
}

// PendingUniforms returns the number of staged uniforms.
func (p *Data) PendingUniforms() int { return len(p.uniforms) }

// ApplyUniforms calls fn for every staged uniform in handle order. Values
// stay staged; fn must not retain v.Data.
func (p *Data) ApplyUniforms(fn func(handle gpu.UniformHandle, v UniformValue)) {
	handles := make([]gpu.UniformHandle, 0, len(p.uniforms))
	for h := range p.uniforms {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	for _, h := range handles {
		fn(h, *p.uniforms[h])
	}
}

// Destroy destroys the program handle. Only the first call has any effect.
func (p *Data) Destroy() {
	if p.disposed.Swap(true) {
		return
	}
	p.ticket.Release()
	if p.Handle.IsValid() {
		p.dev.DestroyProgram(p.Handle)
	}
	clear(p.uniforms)
}

// Destroyed reports whether Destroy has run.
func (p *Data) Destroyed() bool { return p.disposed.Load() }

// MirrorY returns a copy of data with every 4x4 matrix flipped vertically.
// Values that are not whole matrices are returned unchanged.
func MirrorY(data []float32, elementLength uint16) []float32 {
	out := append([]float32(nil), data...)
	if elementLength == 0 || len(data) != int(elementLength)*16 {
		return out
	}
	for i := 0; i < len(out); i += 16 {
		m := math.FromSlice(out[i : i+16]).FlipY()
		copy(out[i:i+16], m[:])
	}
	return out
}

// Collection owns every live program.
type Collection struct {
	table *weaktable.Table[*Data]
}

// NewCollection creates an empty collection. Programs removed from it are
// destroyed.
func NewCollection() *Collection {
	return &Collection{table: weaktable.New(func(p *Data) { p.Destroy() })}
}

// Add transfers ownership of p to the collection.
func (c *Collection) Add(p *Data) {
	p.ticket = c.table.Insert(p)
}

// Each calls fn for every live program.
func (c *Collection) Each(fn func(*Data)) {
	c.table.ApplyToAll(fn)
}

// Len returns the number of live programs.
func (c *Collection) Len() int { return c.table.Len() }

// Clear destroys every program.
func (c *Collection) Clear() { c.table.Clear() }
