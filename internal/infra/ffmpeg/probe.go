package ffmpeg

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/fiapx/fiapx-keyframe-service/internal/domain/keyframe"
	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// StreamInfo describes the first video stream of a file. Width and Height are
// the display size: ffmpeg applies the rotation on decode, so a stream coded
// 1920x1080 with a 90 degree rotation is reported, and decoded, as 1080x1920.
type StreamInfo struct {
	Width     int
	Height    int
	Rotation  int
	Codec     string
	Duration  float64
	NumFrames int
}

type sideData struct {
	Rotation float64 `json:"rotation"`
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		NbFrames  string `json:"nb_frames"`
		Duration  string `json:"duration"`
		Tags      struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []sideData `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func Probe(videoPath string) (*StreamInfo, error) {
	out, err := ffmpeggo.Probe(videoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe %s: %w", keyframe.ErrSourceUnavailable, videoPath, err)
	}
	return parseProbe([]byte(out))
}

func parseProbe(data []byte) (*StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output: %w", keyframe.ErrSourceUnavailable, err)
	}

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return nil, fmt.Errorf("%w: video stream has no dimensions", keyframe.ErrSourceUnavailable)
		}

		info := &StreamInfo{Width: s.Width, Height: s.Height, Codec: s.CodecName}
		info.Rotation = streamRotation(s.Tags.Rotate, s.SideDataList)
		if info.Rotation == 90 || info.Rotation == 270 {
			info.Width, info.Height = info.Height, info.Width
		}
		info.NumFrames, _ = strconv.Atoi(s.NbFrames)

		duration := s.Duration
		if duration == "" {
			duration = out.Format.Duration
		}
		info.Duration, _ = strconv.ParseFloat(duration, 64)
		return info, nil
	}

	return nil, fmt.Errorf("%w: no video stream", keyframe.ErrSourceUnavailable)
}

// streamRotation normalises the rotation to [0,360). Older muxers write a
// "rotate" tag; newer ffprobe builds report a display matrix in side data.
func streamRotation(tag string, side []sideData) int {
	deg := 0.0
	if r, err := strconv.ParseFloat(tag, 64); err == nil {
		deg = r
	}
	for _, sd := range side {
		if sd.Rotation != 0 {
			deg = sd.Rotation
			break
		}
	}
	r := int(math.Round(deg)) % 360
	if r < 0 {
		r += 360
	}
	return r
}
