package texture

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// TGA image types handled by DecodeTGA.
const (
	TGATypeUncompressed = 2
	TGATypeRLE          = 10
)

var errTGATruncated = errors.New("tga: pixel data truncated")

// tgaReader walks BGR(A) pixel data and writes it into an RGBA image in
// decode order, honoring the row direction bit of the header.
type tgaReader struct {
	img         *image.RGBA
	data        []byte
	bpp         int
	width       int
	height      int
	topToBottom bool
	pos         int
	written     int
}

func (r *tgaReader) done() bool { return r.written >= r.width*r.height }

func (r *tgaReader) pixel() (color.RGBA, error) {
	if r.pos+r.bpp > len(r.data) {
		return color.RGBA{}, errTGATruncated
	}
	p := r.data[r.pos : r.pos+r.bpp]
	r.pos += r.bpp
	c := color.RGBA{R: p[2], G: p[1], B: p[0], A: 255}
	if r.bpp == 4 {
		c.A = p[3]
	}
	return c, nil
}

func (r *tgaReader) put(c color.RGBA) {
	x := r.written % r.width
	y := r.written / r.width
	if !r.topToBottom {
		y = r.height - 1 - y
	}
	r.img.SetRGBA(x, y, c)
	r.written++
}

// DecodeTGA decodes an uncompressed or RLE compressed true-color TGA file.
func DecodeTGA(data []byte) (*image.RGBA, error) {
	if len(data) < 18 {
		return nil, errors.New("tga: header too short")
	}
	idLength := int(data[0])
	colorMapType := data[1]
	imageType := data[2]
	width := int(data[12]) | int(data[13])<<8
	height := int(data[14]) | int(data[15])<<8
	bits := int(data[16])
	descriptor := data[17]

	if colorMapType != 0 {
		return nil, errors.New("tga: color-mapped images not supported")
	}
	if imageType != TGATypeUncompressed && imageType != TGATypeRLE {
		return nil, fmt.Errorf("tga: unsupported image type %d", imageType)
	}
	if bits != 24 && bits != 32 {
		return nil, fmt.Errorf("tga: unsupported bit depth %d", bits)
	}
	offset := 18 + idLength
	if offset > len(data) {
		return nil, errTGATruncated
	}

	r := &tgaReader{
		img:         image.NewRGBA(image.Rect(0, 0, width, height)),
		data:        data[offset:],
		bpp:         bits / 8,
		width:       width,
		height:      height,
		topToBottom: descriptor&0x20 != 0,
	}

	if imageType == TGATypeUncompressed {
		for !r.done() {
			c, err := r.pixel()
			if err != nil {
				return nil, err
			}
			r.put(c)
		}
		return r.img, nil
	}

	for !r.done() {
		if r.pos >= len(r.data) {
			return nil, errTGATruncated
		}
		packet := r.data[r.pos]
		r.pos++
		count := int(packet&0x7F) + 1
		if packet&0x80 != 0 {
			c, err := r.pixel()
			if err != nil {
				return nil, err
			}
			for i := 0; i < count && !r.done(); i++ {
				r.put(c)
			}
			continue
		}
		for i := 0; i < count && !r.done(); i++ {
			c, err := r.pixel()
			if err != nil {
				return nil, err
			}
			r.put(c)
		}
	}
	return r.img, nil
}
