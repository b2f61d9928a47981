package math

import (
	"math"
	"testing"
)

func TestIdentity(t *testing.T) {
	m := Identity()
	if m[0] != 1 || m[5] != 1 || m[10] != 1 || m[15] != 1 {
		t.Error("Identity diagonal should be 1")
	}
	if m[1] != 0 || m[4] != 0 {
		t.Error("Identity off-diagonal should be 0")
	}
}

func TestMulIdentity(t *testing.T) {
	m := Translate(1, 2, 3)
	result := m.Mul(Identity())

	for i := 0; i < 16; i++ {
		if result[i] != m[i] {
			t.Errorf("M * I should equal M, element %d: got %f, want %f", i, result[i], m[i])
		}
	}
}

func TestFromSlice(t *testing.T) {
	src := make([]float32, 20)
	for i := range src {
		src[i] = float32(i)
	}
	m := FromSlice(src)
	if m[0] != 0 || m[15] != 15 {
		t.Errorf("FromSlice: got m[0]=%f m[15]=%f", m[0], m[15])
	}

	short := FromSlice([]float32{1, 2})
	if short[1] != 2 || short[2] != 0 {
		t.Errorf("FromSlice short: got %v", short)
	}
}

func TestFlipY(t *testing.T) {
	m := Ortho(0, 100, 0, 50, -1, 1)
	flipped := m.FlipY()

	p := Vec4{25, 10, 0, 1}
	a := m.MulVec4(p)
	b := flipped.MulVec4(p)

	if abs(a[0]-b[0]) > 1e-6 || abs(a[2]-b[2]) > 1e-6 || abs(a[3]-b[3]) > 1e-6 {
		t.Errorf("FlipY changed x/z/w: %v vs %v", a, b)
	}
	if abs(a[1]+b[1]) > 1e-6 {
		t.Errorf("FlipY should negate y: %v vs %v", a[1], b[1])
	}
	if flipped.FlipY() != m {
		t.Error("FlipY twice should be identity")
	}
}

func TestPerspective(t *testing.T) {
	m := Perspective(float32(math.Pi/2), 1.0, 0.1, 100.0)

	// For 90 degree FOV, f = 1/tan(45) = 1
	if abs(m[0]-1) > 0.001 {
		t.Errorf("Perspective m[0]: got %f, want ~1", m[0])
	}
	if abs(m[5]-1) > 0.001 {
		t.Errorf("Perspective m[5]: got %f, want ~1", m[5])
	}
	if m[11] != -1 {
		t.Errorf("Perspective m[11]: got %f, want -1", m[11])
	}
}

func TestScaleTranslate(t *testing.T) {
	p := Translate(5, 10, 15).Mul(Scale(2, 3, 4)).MulVec4(Vec4{1, 1, 1, 1})
	want := Vec4{7, 13, 19, 1}
	if p != want {
		t.Errorf("got %v, want %v", p, want)
	}
}

func TestRotateZ(t *testing.T) {
	p := RotateZ(float32(math.Pi / 2)).MulVec4(Vec4{1, 0, 0, 1})
	if abs(p[0]) > 1e-6 || abs(p[1]-1) > 1e-6 {
		t.Errorf("RotateZ(pi/2) * x: got %v, want ~(0, 1)", p)
	}
}

func abs(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
