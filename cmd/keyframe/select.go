package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fiapx/fiapx-keyframe-service/internal/domain/keyframe"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/config"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/ffmpeg"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/still"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/vidio"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errNoKeyframe = errors.New("no frame met the thresholds")

type selectOptions struct {
	MinBrightness float64
	MinSharpness  float64
	Backend       string
	Output        string
	Quality       int
	MaxWidth      int
}

var selectOpts selectOptions

var selectCmd = &cobra.Command{
	Use:   "select <video>",
	Short: "Write the first frame that passes the brightness and sharpness thresholds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSelect(cmd, args[0], selectOpts)
	},
}

func init() {
	selectCmd.Flags().Float64VarP(&selectOpts.MinBrightness, "brightness", "b", keyframe.DefaultMinBrightness, "Minimum mean gray level (0-255)")
	selectCmd.Flags().Float64VarP(&selectOpts.MinSharpness, "sharpness", "s", keyframe.DefaultMinSharpness, "Minimum variance of the Laplacian")
	selectCmd.Flags().StringVar(&selectOpts.Backend, "backend", config.BackendFFmpeg, "Decoder: ffmpeg, vidio")
	selectCmd.Flags().StringVarP(&selectOpts.Output, "output", "o", "", "Path of the still to write (default: <video>_keyframe.jpg)")
	selectCmd.Flags().IntVarP(&selectOpts.Quality, "quality", "q", 85, "JPEG quality")
	selectCmd.Flags().IntVar(&selectOpts.MaxWidth, "max-width", 0, "Downscale stills wider than this (0 keeps the frame size)")
	rootCmd.AddCommand(selectCmd)
}

func runSelect(cmd *cobra.Command, videoPath string, opts selectOptions) error {
	output := opts.Output
	if output == "" {
		output = strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + "_keyframe.jpg"
	}

	encoder, err := still.NewEncoder(filepath.Ext(output), opts.Quality, opts.MaxWidth)
	if err != nil {
		return err
	}

	var opener keyframe.Opener
	switch opts.Backend {
	case config.BackendFFmpeg:
		opener = ffmpeg.NewSourceOpener(log)
	case config.BackendVidio:
		opener = vidio.NewSourceOpener(log)
	default:
		return fmt.Errorf("unknown backend %q", opts.Backend)
	}

	th := keyframe.Thresholds{Brightness: opts.MinBrightness, Sharpness: opts.MinSharpness}
	res, err := keyframe.SelectFromPath(cmd.Context(), opener, videoPath, th)
	if err != nil {
		return err
	}
	if !res.Selected() {
		return fmt.Errorf("%s: %w (%d frames evaluated)", videoPath, errNoKeyframe, res.Evaluated)
	}

	encoded, err := encoder.Encode(res.Frame)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, encoded.Data, 0644); err != nil {
		return fmt.Errorf("write still: %w", err)
	}

	log.Info("keyframe written", zap.String("output", output), zap.Int("frame_index", res.Index))
	fmt.Fprintf(cmd.OutOrStdout(), "frame %d  brightness %.1f  sharpness %.1f  -> %s\n",
		res.Index, res.Score.Brightness, res.Score.Sharpness, output)
	return nil
}
