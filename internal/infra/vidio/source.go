package vidio

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	vidio "github.com/AlexEidt/Vidio"
	"github.com/fiapx/fiapx-keyframe-service/internal/domain/keyframe"
	"go.uber.org/zap"
)

// SourceOpener decodes videos with Vidio. Vidio reports a truncated stream
// the same way as a finished one, so a cut-off video ends the scan early
// instead of failing it.
type SourceOpener struct {
	logger *zap.Logger
}

func NewSourceOpener(logger *zap.Logger) *SourceOpener {
	return &SourceOpener{logger: logger}
}

func (o *SourceOpener) Open(_ context.Context, videoPath string) (keyframe.Source, error) {
	video, err := vidio.NewVideo(videoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", keyframe.ErrSourceUnavailable, err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, video.Width(), video.Height()))
	if err := video.SetFrameBuffer(frame.Pix); err != nil {
		video.Close()
		return nil, fmt.Errorf("%w: %w", keyframe.ErrSourceUnavailable, err)
	}

	o.logger.Debug("video source opened",
		zap.String("path", videoPath),
		zap.Int("width", video.Width()),
		zap.Int("height", video.Height()),
		zap.Int("frames", video.Frames()),
	)

	return &Source{video: video, frame: frame}, nil
}

type Source struct {
	video *vidio.Video
	frame *image.RGBA
	once  sync.Once
}

func (s *Source) Next() (image.Image, error) {
	if !s.video.Read() {
		return nil, io.EOF
	}
	return s.frame, nil
}

func (s *Source) Close() error {
	s.once.Do(s.video.Close)
	return nil
}
