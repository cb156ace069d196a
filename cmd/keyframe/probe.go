package main

import (
	"fmt"

	"github.com/fiapx/fiapx-keyframe-service/internal/infra/ffmpeg"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe <video>",
	Short: "Print the dimensions and length of the first video stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := ffmpeg.Probe(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "codec %s  %dx%d  rotation %d  %.2fs  %d frames\n",
			info.Codec, info.Width, info.Height, info.Rotation, info.Duration, info.NumFrames)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
