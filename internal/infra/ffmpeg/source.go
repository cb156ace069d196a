package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/fiapx/fiapx-keyframe-service/internal/domain/keyframe"
	ffmpeggo "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// SourceOpener decodes videos by piping raw RGBA frames out of an ffmpeg process.
type SourceOpener struct {
	logger *zap.Logger
}

func NewSourceOpener(logger *zap.Logger) *SourceOpener {
	return &SourceOpener{logger: logger}
}

func (o *SourceOpener) Open(ctx context.Context, videoPath string) (keyframe.Source, error) {
	info, err := Probe(videoPath)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	stderr := &bytes.Buffer{}

	cmd := ffmpeggo.Input(videoPath).
		Output("pipe:", ffmpeggo.KwArgs{
			"map":     "0:v:0",
			"format":  "rawvideo",
			"pix_fmt": "rgba",
			"vsync":   "0",
		}).
		GlobalArgs("-nostdin", "-xerror", "-loglevel", "error").
		WithOutput(pw).
		WithErrorOutput(stderr).
		Compile()

	if err := cmd.Start(); err != nil {
		pr.Close()
		return nil, fmt.Errorf("%w: start ffmpeg: %w", keyframe.ErrSourceUnavailable, err)
	}

	s := newSource(ctx, cmd, pr, info.Width, info.Height, stderr)
	go func() {
		err := cmd.Wait()
		close(s.done)
		pw.CloseWithError(err)
	}()
	go s.watch()

	o.logger.Debug("video source opened",
		zap.String("path", videoPath),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Int("rotation", info.Rotation),
		zap.String("codec", info.Codec),
	)

	return s, nil
}

// Source reads fixed-size RGBA frames from a running ffmpeg decoder.
type Source struct {
	ctx    context.Context
	cmd    *exec.Cmd
	pipe   io.ReadCloser
	frame  *image.RGBA
	read   int
	stderr *bytes.Buffer
	done   chan struct{}

	closeOnce sync.Once
}

func newSource(ctx context.Context, cmd *exec.Cmd, pipe io.ReadCloser, width, height int, stderr *bytes.Buffer) *Source {
	return &Source{
		ctx:    ctx,
		cmd:    cmd,
		pipe:   pipe,
		frame:  image.NewRGBA(image.Rect(0, 0, width, height)),
		stderr: stderr,
		done:   make(chan struct{}),
	}
}

func (s *Source) Next() (image.Image, error) {
	_, err := io.ReadFull(s.pipe, s.frame.Pix)
	switch {
	case err == nil:
		s.read++
		return s.frame, nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	}

	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: truncated frame after %d frames%s", keyframe.ErrDecode, s.read, s.diagnostics())
	}
	return nil, fmt.Errorf("%w: ffmpeg: %w%s", keyframe.ErrDecode, err, s.diagnostics())
}

// Close stops the decoder if it is still running. It is safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		select {
		case <-s.done:
		default:
			if s.cmd != nil && s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
		}
		_ = s.pipe.Close()
		<-s.done
	})
	return nil
}

func (s *Source) watch() {
	select {
	case <-s.ctx.Done():
		_ = s.Close()
	case <-s.done:
	}
}

// diagnostics is only read once the process has exited, when stderr is no
// longer being written.
func (s *Source) diagnostics() string {
	select {
	case <-s.done:
	default:
		return ""
	}
	msg := strings.TrimSpace(s.stderr.String())
	if msg == "" {
		return ""
	}
	return ": " + msg
}
