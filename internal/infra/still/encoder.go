package still

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fiapx/fiapx-keyframe-service/internal/domain/port"
)

type Encoder struct {
	format   imaging.Format
	quality  int
	maxWidth int
}

// NewEncoder accepts the formats imaging knows by extension ("jpg", "png", ...).
// A maxWidth of zero keeps the frame size.
func NewEncoder(format string, quality, maxWidth int) (*Encoder, error) {
	f, err := imaging.FormatFromExtension(strings.TrimPrefix(format, "."))
	if err != nil {
		return nil, fmt.Errorf("still format %q: %w", format, err)
	}
	if quality <= 0 || quality > 100 {
		return nil, fmt.Errorf("still quality %d out of range 1-100", quality)
	}
	if maxWidth < 0 {
		return nil, fmt.Errorf("still max width %d is negative", maxWidth)
	}
	return &Encoder{format: f, quality: quality, maxWidth: maxWidth}, nil
}

func (e *Encoder) Encode(img image.Image) (*port.EncodedStill, error) {
	if e.maxWidth > 0 && img.Bounds().Dx() > e.maxWidth {
		img = imaging.Resize(img, e.maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, e.format, imaging.JPEGQuality(e.quality)); err != nil {
		return nil, fmt.Errorf("encode still: %w", err)
	}

	contentType, ext := describe(e.format)
	return &port.EncodedStill{Data: buf.Bytes(), ContentType: contentType, Extension: ext}, nil
}

func describe(f imaging.Format) (contentType string, ext string) {
	switch f {
	case imaging.JPEG:
		return "image/jpeg", "jpg"
	case imaging.PNG:
		return "image/png", "png"
	case imaging.GIF:
		return "image/gif", "gif"
	case imaging.TIFF:
		return "image/tiff", "tiff"
	case imaging.BMP:
		return "image/bmp", "bmp"
	default:
		return "application/octet-stream", strings.ToLower(f.String())
	}
}
