package ffmpeg

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTranscoderCommandEvensOutOddDimensions(t *testing.T) {
	tr := NewTranscoder("", zap.NewNop())
	cmd := tr.command("in.mov", "out.mp4", &bytes.Buffer{})

	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "-vf "+evenDimensions)
	assert.Contains(t, args, "-c:v libx264")
	assert.Contains(t, args, "-pix_fmt yuv420p")
	assert.Contains(t, args, "-preset veryfast")
	assert.Contains(t, args, "out.mp4")
}
