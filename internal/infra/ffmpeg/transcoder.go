package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	ffmpeggo "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// Transcoder rewrites uploaded videos as H.264 MP4.
type Transcoder struct {
	preset string
	logger *zap.Logger
}

func NewTranscoder(preset string, logger *zap.Logger) *Transcoder {
	if preset == "" {
		preset = "veryfast"
	}
	return &Transcoder{preset: preset, logger: logger}
}

func (t *Transcoder) Transcode(ctx context.Context, srcPath string, dstPath string) error {
	t.logger.Info("transcoding video", zap.String("src", srcPath), zap.String("dst", dstPath))

	stderr := &bytes.Buffer{}
	cmd := t.command(srcPath, dstPath, stderr)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ffmpeg error: %w, output: %s", err, strings.TrimSpace(stderr.String()))
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}

	t.logger.Info("transcode successful", zap.String("dst", dstPath))
	return nil
}

// evenDimensions rounds odd sizes down; yuv420p subsamples chroma 2x2 and
// libx264 refuses odd widths or heights.
const evenDimensions = "scale=trunc(iw/2)*2:trunc(ih/2)*2"

func (t *Transcoder) command(srcPath, dstPath string, stderr io.Writer) *exec.Cmd {
	return ffmpeggo.Input(srcPath).
		Output(dstPath, ffmpeggo.KwArgs{
			"c:v":      "libx264",
			"preset":   t.preset,
			"vf":       evenDimensions,
			"pix_fmt":  "yuv420p",
			"c:a":      "aac",
			"movflags": "+faststart",
		}).
		GlobalArgs("-nostdin", "-loglevel", "error").
		OverWriteOutput().
		WithErrorOutput(stderr).
		Compile()
}
