package still

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestEncodeJPEG(t *testing.T) {
	enc, err := NewEncoder("jpg", 85, 0)
	require.NoError(t, err)

	still, err := enc.Encode(testFrame(64, 48))
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", still.ContentType)
	assert.Equal(t, "jpg", still.Extension)

	img, err := jpeg.Decode(bytes.NewReader(still.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
}

func TestEncodePNGDownscales(t *testing.T) {
	enc, err := NewEncoder(".png", 90, 32)
	require.NoError(t, err)

	still, err := enc.Encode(testFrame(64, 48))
	require.NoError(t, err)
	assert.Equal(t, "image/png", still.ContentType)

	img, err := png.Decode(bytes.NewReader(still.Data))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 24, img.Bounds().Dy())
}

func TestEncodeKeepsSmallFrames(t *testing.T) {
	enc, err := NewEncoder("png", 90, 640)
	require.NoError(t, err)

	still, err := enc.Encode(testFrame(20, 10))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(still.Data))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
}

func TestNewEncoderRejectsBadOptions(t *testing.T) {
	_, err := NewEncoder("webp", 85, 0)
	assert.Error(t, err)

	_, err = NewEncoder("jpg", 0, 0)
	assert.Error(t, err)

	_, err = NewEncoder("jpg", 85, -1)
	assert.Error(t, err)
}
