// Package keyframe picks a representative still from a decoded video: the
// first frame that is both bright enough and sharp enough.
package keyframe

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
)

var (
	ErrInvalidThreshold  = errors.New("invalid threshold")
	ErrSourceUnavailable = errors.New("video source unavailable")
	ErrDecode            = errors.New("decode error")
	ErrMalformedFrame    = errors.New("malformed frame")
)

const (
	DefaultMinBrightness = 50.0
	DefaultMinSharpness  = 30.0
)

// Source yields decoded frames in order. Next returns io.EOF once the stream
// is exhausted. The image returned by Next may be overwritten by the next call.
type Source interface {
	Next() (image.Image, error)
	Close() error
}

// Opener opens a Source for a local video file.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}

type Thresholds struct {
	Brightness float64
	Sharpness  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Brightness: DefaultMinBrightness, Sharpness: DefaultMinSharpness}
}

func (t Thresholds) Validate() error {
	if t.Brightness < 0 || math.IsNaN(t.Brightness) {
		return fmt.Errorf("%w: brightness %v", ErrInvalidThreshold, t.Brightness)
	}
	if t.Sharpness < 0 || math.IsNaN(t.Sharpness) {
		return fmt.Errorf("%w: sharpness %v", ErrInvalidThreshold, t.Sharpness)
	}
	return nil
}

func (t Thresholds) Accepts(s Score) bool {
	return s.Brightness >= t.Brightness && s.Sharpness >= t.Sharpness
}

type Outcome int

const (
	OutcomeExhausted Outcome = iota
	OutcomeSelected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSelected:
		return "selected"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the terminal state of a scan that did not fail.
// Frame is an owned copy and is nil unless Outcome is OutcomeSelected.
type Result struct {
	Outcome   Outcome
	Frame     *image.RGBA
	Index     int
	Score     Score
	Evaluated int
}

func (r *Result) Selected() bool {
	return r != nil && r.Outcome == OutcomeSelected
}

// Select scans src from its current position and returns the first frame
// accepted by th. It does not close src.
func Select(ctx context.Context, src Source, th Thresholds) (*Result, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return &Result{Outcome: OutcomeExhausted, Index: -1, Evaluated: index}, nil
		}
		if err != nil {
			if errors.Is(err, ErrDecode) {
				return nil, fmt.Errorf("frame %d: %w", index, err)
			}
			return nil, fmt.Errorf("%w: frame %d: %w", ErrDecode, index, err)
		}

		score, err := Measure(frame)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %w", ErrDecode, index, err)
		}

		if th.Accepts(score) {
			return &Result{
				Outcome:   OutcomeSelected,
				Frame:     cloneRGBA(frame),
				Index:     index,
				Score:     score,
				Evaluated: index + 1,
			}, nil
		}
	}
}

// SelectFromPath opens path, scans it with Select and closes the source
// exactly once on every exit path.
func SelectFromPath(ctx context.Context, opener Opener, path string, th Thresholds) (*Result, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}

	src, err := opener.Open(ctx, path)
	if err != nil {
		if errors.Is(err, ErrSourceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer src.Close()

	return Select(ctx, src, th)
}
