package glbackend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/nativegfx/internal/gpu"
)

type attribute struct {
	location   uint32
	components int32
}

type uniform struct {
	location int32
	xtype    uint32
	count    int32
}

type program struct {
	id         uint32
	attributes []attribute
	uniforms   map[gpu.UniformHandle]uniform
}

// CreateProgram implements gpu.Device.
func (d *Device) CreateProgram(vertexSrc, fragmentSrc string) (gpu.ProgramHandle, gpu.ProgramReflection, error) {
	id, err := compileProgram(vertexSrc, fragmentSrc)
	if err != nil {
		return gpu.InvalidProgram, gpu.ProgramReflection{}, err
	}
	h, err := d.programHandles.alloc()
	if err != nil {
		gl.DeleteProgram(id)
		return gpu.InvalidProgram, gpu.ProgramReflection{}, err
	}

	p := &program{id: id, uniforms: make(map[gpu.UniformHandle]uniform)}
	refl := gpu.ProgramReflection{Attributes: make(map[string]uint32)}

	var count int32
	name := make([]uint8, 256)

	gl.GetProgramiv(id, gl.ACTIVE_ATTRIBUTES, &count)
	for i := int32(0); i < count; i++ {
		var length, size int32
		var xtype uint32
		gl.GetActiveAttrib(id, uint32(i), int32(len(name)), &length, &size, &xtype, &name[0])
		attrName := string(name[:length])
		loc := gl.GetAttribLocation(id, gl.Str(attrName+"\x00"))
		if loc < 0 {
			continue
		}
		refl.Attributes[attrName] = uint32(loc)
		p.attributes = append(p.attributes, attribute{location: uint32(loc), components: components(xtype)})
	}
	sort.Slice(p.attributes, func(i, j int) bool { return p.attributes[i].location < p.attributes[j].location })

	vertexUniforms := make(map[string]bool)
	for _, u := range gpu.DeclaredUniforms(vertexSrc) {
		vertexUniforms[u.Name] = true
	}

	gl.GetProgramiv(id, gl.ACTIVE_UNIFORMS, &count)
	for i := int32(0); i < count; i++ {
		var length, size int32
		var xtype uint32
		gl.GetActiveUniform(id, uint32(i), int32(len(name)), &length, &size, &xtype, &name[0])
		uniformName := strings.TrimSuffix(string(name[:length]), "[0]")
		loc := gl.GetUniformLocation(id, gl.Str(uniformName+"\x00"))
		if loc < 0 {
			continue
		}
		uh := d.uniformHandle(uniformName)
		p.uniforms[uh] = uniform{location: loc, xtype: xtype, count: size}

		stage := gpu.StageFragment
		if vertexUniforms[uniformName] {
			stage = gpu.StageVertex
		}
		refl.Uniforms = append(refl.Uniforms, gpu.UniformDesc{
			Name:   uniformName,
			Stage:  stage,
			Handle: uh,
			Count:  uint16(size),
		})
	}

	d.programs[gpu.ProgramHandle(h)] = p
	d.log.Debug("program linked",
		zap.Uint16("handle", h),
		zap.Int("attributes", len(p.attributes)),
		zap.Int("uniforms", len(p.uniforms)))
	return gpu.ProgramHandle(h), refl, nil
}

// uniformHandle returns the device-wide handle for a uniform name.
func (d *Device) uniformHandle(name string) gpu.UniformHandle {
	if h, ok := d.uniformIDs[name]; ok {
		return h
	}
	h := gpu.UniformHandle(len(d.uniformNames))
	d.uniformIDs[name] = h
	d.uniformNames = append(d.uniformNames, name)
	return h
}

// DestroyProgram implements gpu.Device.
func (d *Device) DestroyProgram(h gpu.ProgramHandle) {
	p, ok := d.programs[h]
	if !ok {
		return
	}
	gl.DeleteProgram(p.id)
	delete(d.programs, h)
	d.programHandles.free(uint16(h))
}

func (d *Device) execute(dr draw) {
	p, ok := d.programs[dr.program]
	if !ok {
		return
	}
	gl.UseProgram(p.id)

	for h, v := range dr.uniforms {
		u, ok := p.uniforms[h]
		if !ok || len(v.data) == 0 {
			continue
		}
		setUniform(u, v)
	}
	for h, t := range dr.textures {
		u, ok := p.uniforms[h]
		tex, found := d.textures[t.texture]
		if !ok || !found {
			continue
		}
		gl.ActiveTexture(gl.TEXTURE0 + uint32(t.stage))
		gl.BindTexture(gl.TEXTURE_2D, tex.id)
		gl.Uniform1i(u.location, int32(t.stage))
	}

	if dr.call.State&gpu.StateDepthTest != 0 {
		gl.Enable(gl.DEPTH_TEST)
	} else {
		gl.Disable(gl.DEPTH_TEST)
	}
	if dr.call.State&gpu.StateBlendAlpha != 0 {
		gl.Enable(gl.BLEND)
		gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
	} else {
		gl.Disable(gl.BLEND)
	}

	// Attributes are read interleaved from the first vertex buffer as 32-bit
	// floats in location order.
	if len(dr.call.VertexBuffers) > 0 {
		vb, ok := d.buffers[dr.call.VertexBuffers[0]]
		if !ok {
			return
		}
		gl.BindBuffer(gl.ARRAY_BUFFER, vb.id)
		var offset uintptr
		for _, a := range p.attributes {
			gl.EnableVertexAttribArray(a.location)
			gl.VertexAttribPointerWithOffset(a.location, a.components, gl.FLOAT, false, int32(vb.stride), offset)
			offset += uintptr(a.components) * 4
		}
	}

	if dr.call.IndexBuffer.IsValid() {
		ib, ok := d.buffers[dr.call.IndexBuffer]
		if !ok {
			return
		}
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, ib.id)
		xtype, size := uint32(gl.UNSIGNED_SHORT), uintptr(2)
		if ib.index32 {
			xtype, size = gl.UNSIGNED_INT, 4
		}
		gl.DrawElementsWithOffset(gl.TRIANGLES, int32(dr.call.Count), xtype, uintptr(dr.call.First)*size)
	} else {
		gl.DrawArrays(gl.TRIANGLES, int32(dr.call.First), int32(dr.call.Count))
	}

	for _, a := range p.attributes {
		gl.DisableVertexAttribArray(a.location)
	}
}

func setUniform(u uniform, v boundUniform) {
	n := int32(v.num)
	if n == 0 {
		n = 1
	}
	n = min(n, u.count)
	data := &v.data[0]
	switch u.xtype {
	case gl.FLOAT:
		gl.Uniform1fv(u.location, n, data)
	case gl.FLOAT_VEC2:
		gl.Uniform2fv(u.location, n, data)
	case gl.FLOAT_VEC3:
		gl.Uniform3fv(u.location, n, data)
	case gl.FLOAT_VEC4:
		gl.Uniform4fv(u.location, n, data)
	case gl.FLOAT_MAT3:
		gl.UniformMatrix3fv(u.location, n, false, data)
	case gl.FLOAT_MAT4:
		gl.UniformMatrix4fv(u.location, n, false, data)
	case gl.INT, gl.BOOL, gl.SAMPLER_2D:
		gl.Uniform1i(u.location, int32(v.data[0]))
	}
}

func components(xtype uint32) int32 {
	switch xtype {
	case gl.FLOAT_VEC2:
		return 2
	case gl.FLOAT_VEC3:
		return 3
	case gl.FLOAT_VEC4:
		return 4
	default:
		return 1
	}
}

// compileProgram compiles vertex and fragment shaders and links them.
func compileProgram(vertexSrc, fragmentSrc string) (uint32, error) {
	vertShader, err := compileShader(vertexSrc, gl.VERTEX_SHADER, "vertex")
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vertShader)

	fragShader, err := compileShader(fragmentSrc, gl.FRAGMENT_SHADER, "fragment")
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fragShader)

	program := gl.CreateProgram()
	gl.AttachShader(program, vertShader)
	gl.AttachShader(program, fragShader)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, max(logLen, 1))
		gl.GetProgramInfoLog(program, logLen, nil, &log[0])
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("link: %s", string(log))
	}

	return program, nil
}

func compileShader(source string, shaderType uint32, name string) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csource, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csource, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, max(logLen, 1))
		gl.GetShaderInfoLog(shader, logLen, nil, &log[0])
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("%s shader: %s", name, string(log))
	}

	return shader, nil
}
