package keyframe

import (
	"fmt"
	"image"
	"image/color"
)

// Score holds the two quality metrics computed for a single frame.
type Score struct {
	Brightness float64
	Sharpness  float64
}

// Grayscale reduces a frame to a luma map with the same bounds.
// It fails with ErrMalformedFrame when the pixel data cannot cover the bounds.
func Grayscale(img image.Image) (*image.Gray, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrMalformedFrame)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrMalformedFrame, b)
	}

	gray := image.NewGray(b)

	switch src := img.(type) {
	case *image.RGBA:
		if err := checkRGBA(src); err != nil {
			return nil, err
		}
		w, h := b.Dx(), b.Dy()
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*4]
			out := gray.Pix[y*gray.Stride : y*gray.Stride+w]
			for x := 0; x < w; x++ {
				out[x] = luma(row[x*4], row[x*4+1], row[x*4+2])
			}
		}
	case *image.Gray:
		if len(src.Pix) < pixLen(src.Stride, b, 1) {
			return nil, fmt.Errorf("%w: gray buffer too short", ErrMalformedFrame)
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			copy(gray.Pix[(y-b.Min.Y)*gray.Stride:], src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)])
		}
	default:
		if err := grayGeneric(img, gray); err != nil {
			return nil, err
		}
	}

	return gray, nil
}

// grayGeneric converts through At. The image types in package image index
// their buffers without bounds checks of their own, so a short buffer panics
// there; that panic is reported as ErrMalformedFrame.
func grayGeneric(img image.Image, gray *image.Gray) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %T: %v", ErrMalformedFrame, img, r)
		}
	}()

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			gray.Pix[gray.PixOffset(x, y)] = luma(c.R, c.G, c.B)
		}
	}
	return nil
}

// Brightness is the mean intensity of the gray map, in [0,255].
func Brightness(gray *image.Gray) float64 {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var sum uint64
	for y := 0; y < h; y++ {
		for _, v := range gray.Pix[y*gray.Stride : y*gray.Stride+w] {
			sum += uint64(v)
		}
	}
	return float64(sum) / float64(w*h)
}

// Sharpness is the variance of the 4-neighbour Laplacian response over the
// gray map. Borders are reflected without repeating the edge pixel, so a
// uniform image always scores zero.
func Sharpness(gray *image.Gray) float64 {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(gray.Pix[reflect101(y, h)*gray.Stride+reflect101(x, w)])
	}

	var sum, sumSq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			lap := at(x, y-1) + at(x-1, y) + at(x+1, y) + at(x, y+1) - 4*at(x, y)
			sum += lap
			sumSq += lap * lap
		}
	}

	n := float64(w * h)
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		return 0
	}
	return variance
}

// Measure computes both metrics for a frame.
func Measure(img image.Image) (Score, error) {
	gray, err := Grayscale(img)
	if err != nil {
		return Score{}, err
	}
	return Score{Brightness: Brightness(gray), Sharpness: Sharpness(gray)}, nil
}

func luma(r, g, b uint8) uint8 {
	return uint8((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16)
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

func checkRGBA(img *image.RGBA) error {
	b := img.Bounds()
	if img.Stride < b.Dx()*4 {
		return fmt.Errorf("%w: stride %d shorter than row of %d pixels", ErrMalformedFrame, img.Stride, b.Dx())
	}
	if len(img.Pix) < pixLen(img.Stride, b, 4) {
		return fmt.Errorf("%w: pixel buffer has %d bytes, need %d", ErrMalformedFrame, len(img.Pix), pixLen(img.Stride, b, 4))
	}
	return nil
}

func pixLen(stride int, b image.Rectangle, bpp int) int {
	return stride*(b.Dy()-1) + b.Dx()*bpp
}

func cloneRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.RGBA); ok {
		w := b.Dx() * 4
		for y := 0; y < b.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+w], src.Pix[y*src.Stride:y*src.Stride+w])
		}
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}
	return out
}
