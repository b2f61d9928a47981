// Package capture writes render target pixels to PNG files.
package capture

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Capturer saves frames under a directory with a common file prefix.
type Capturer struct {
	outputDir string
	prefix    string
	seq       atomic.Uint64

	// now is replaced in tests.
	now func() time.Time
}

// New creates a capturer. An empty outputDir writes to the working directory.
func New(outputDir, prefix string) *Capturer {
	if prefix == "" {
		prefix = "frame"
	}
	return &Capturer{
		outputDir: outputDir,
		prefix:    prefix,
		now:       time.Now,
	}
}

// Image converts RGBA pixel data to an image. When bottomUp is set the rows
// are flipped, as returned by OpenGL reads.
func Image(pixels []byte, width, height int, bottomUp bool) (*image.RGBA, error) {
	if len(pixels) != width*height*4 {
		return nil, fmt.Errorf("pixel data size mismatch: expected %d, got %d", width*height*4, len(pixels))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	rowSize := width * 4
	for y := 0; y < height; y++ {
		srcY := y
		if bottomUp {
			srcY = height - 1 - y
		}
		srcOffset := srcY * rowSize
		dstOffset := y * img.Stride
		copy(img.Pix[dstOffset:dstOffset+rowSize], pixels[srcOffset:srcOffset+rowSize])
	}
	return img, nil
}

// SavePixels writes raw RGBA pixels as a PNG and returns the file name.
func (c *Capturer) SavePixels(pixels []byte, width, height int, bottomUp bool) (string, error) {
	img, err := Image(pixels, width, height, bottomUp)
	if err != nil {
		return "", err
	}
	return c.SaveImage(img)
}

// SaveImage writes img as a PNG and returns the file name.
func (c *Capturer) SaveImage(img image.Image) (string, error) {
	if c.outputDir != "" {
		if err := os.MkdirAll(c.outputDir, 0755); err != nil {
			return "", fmt.Errorf("creating output dir: %w", err)
		}
	}

	filename := c.nextFilename()
	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return "", fmt.Errorf("encoding PNG: %w", err)
	}
	return filename, nil
}

// nextFilename is unique per capturer even within the same second.
func (c *Capturer) nextFilename() string {
	timestamp := c.now().Format("2006-01-02_15-04-05")
	filename := fmt.Sprintf("%s_%s_%03d.png", c.prefix, timestamp, c.seq.Add(1))
	if c.outputDir != "" {
		filename = filepath.Join(c.outputDir, filename)
	}
	return filename
}
