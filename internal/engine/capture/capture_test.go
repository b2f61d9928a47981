package capture

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x2 image: red row then blue row in memory order.
var pixels = []byte{
	255, 0, 0, 255,
	0, 0, 255, 255,
}

func TestImageTopDown(t *testing.T) {
	img, err := Image(pixels, 1, 2, false)
	require.NoError(t, err)

	r, _, _, _ := img.At(0, 0).RGBA()
	_, _, b, _ := img.At(0, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), b)
}

func TestImageBottomUpFlips(t *testing.T) {
	img, err := Image(pixels, 1, 2, true)
	require.NoError(t, err)

	_, _, b, _ := img.At(0, 0).RGBA()
	r, _, _, _ := img.At(0, 1).RGBA()
	assert.Equal(t, uint32(0xffff), b)
	assert.Equal(t, uint32(0xffff), r)
}

func TestImageSizeMismatch(t *testing.T) {
	_, err := Image(pixels, 2, 2, false)
	assert.Error(t, err)
}

func TestSavePixels(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	c := New(dir, "shot")
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	first, err := c.SavePixels(pixels, 1, 2, true)
	require.NoError(t, err)
	second, err := c.SavePixels(pixels, 1, 2, true)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "shot_2024-05-01_12-00-00_001.png"), first)
	assert.NotEqual(t, first, second)

	f, err := os.Open(first)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 1, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
}

func TestDefaultPrefix(t *testing.T) {
	c := New("", "")
	assert.Contains(t, c.nextFilename(), "frame_")
}
