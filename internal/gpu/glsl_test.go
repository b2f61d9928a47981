package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeclaredUniformsIgnoresNonDeclarations(t *testing.T) {
	src := `#version 410 core
in vec3 color;            // not a uniform
uniform mat4 projection;  // uniform vec4 tint;
/* uniform float strength;
   uniform sampler2D albedo; */
uniform lowp vec4 lights[3];
out vec3 v_color; // color
`
	got := DeclaredUniforms(src)
	assert.Equal(t, []UniformDesc{
		{Name: "projection", Count: 1},
		{Name: "lights", Count: 3},
	}, got)
}

func TestStripBlockCommentsKeepsLines(t *testing.T) {
	src := "a\n/* x\ny */b\nc /* z */"
	assert.Equal(t, "a\n\nb\nc ", stripBlockComments(src))
	assert.Equal(t, "open ", stripBlockComments("open /* never closed"))
}

func TestRecorderStageFromDeclarationOnly(t *testing.T) {
	r := NewRecorder(Caps{}, 8, 8)
	vs := `in vec3 color;
uniform mat4 projection;
`
	fs := `uniform vec4 color;
`
	_, refl, err := r.CreateProgram(vs, fs)
	if !assert.NoError(t, err) {
		return
	}
	stages := make(map[string]Stage)
	for _, u := range refl.Uniforms {
		stages[u.Name] = u.Stage
	}
	assert.Equal(t, StageVertex, stages["projection"])
	assert.Equal(t, StageFragment, stages["color"])
}
