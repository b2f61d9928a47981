// Package texture decodes image files into RGBA8 pixel data ready for
// upload as GPU textures.
package texture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/png" // PNG decoder registration
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp" // BMP decoder registration
)

// ColorKey turns pixels close to a key color fully transparent.
type ColorKey struct {
	Color     color.RGBA
	Tolerance uint8
}

// Magenta is the classic 0xFF00FF transparency key.
var Magenta = &ColorKey{Color: color.RGBA{R: 255, B: 255, A: 255}, Tolerance: 5}

// Match reports whether r, g, b lies within the key's tolerance.
func (k *ColorKey) Match(r, g, b uint8) bool {
	return near(r, k.Color.R, k.Tolerance) &&
		near(g, k.Color.G, k.Tolerance) &&
		near(b, k.Color.B, k.Tolerance)
}

func near(v, want, tol uint8) bool {
	if v > want {
		return v-want <= tol
	}
	return want-v <= tol
}

// Apply makes every keyed pixel of img transparent black. Clearing RGB keeps
// linear filtering from bleeding the key color into edges.
func (k *ColorKey) Apply(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			if k.Match(img.Pix[i], img.Pix[i+1], img.Pix[i+2]) {
				copy(img.Pix[i:i+4], []byte{0, 0, 0, 0})
			}
		}
	}
}

// ToRGBA converts img to a tightly packed RGBA image with its origin at 0,0.
// A nil key leaves colors untouched.
func ToRGBA(img image.Image, key *ColorKey) *image.RGBA {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	} else if key != nil {
		rgba = &image.RGBA{Pix: append([]byte(nil), rgba.Pix...), Stride: rgba.Stride, Rect: rgba.Rect}
	}
	if key != nil {
		key.Apply(rgba)
	}
	return rgba
}

// Decode decodes PNG, BMP or TGA data. TGA has no magic number, so name's
// extension selects it.
func Decode(name string, data []byte, key *ColorKey) (*image.RGBA, error) {
	if strings.EqualFold(filepath.Ext(name), ".tga") {
		img, err := DecodeTGA(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		if key != nil {
			key.Apply(img)
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return ToRGBA(img, key), nil
}

// Load reads and decodes an image file.
func Load(path string, key *ColorKey) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading texture: %w", err)
	}
	return Decode(path, data, key)
}
