package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fiapx/fiapx-keyframe-service/internal/domain/keyframe"
	"github.com/fiapx/fiapx-keyframe-service/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logLevel string
	log      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "keyframe",
	Short:         "Pick a bright, sharp still from a video",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		log, err = logger.New(logLevel)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode lets scripts tell bad input apart from unreadable video.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errNoKeyframe):
		return 2
	case errors.Is(err, keyframe.ErrInvalidThreshold):
		return 3
	case errors.Is(err, keyframe.ErrSourceUnavailable), errors.Is(err, keyframe.ErrDecode):
		return 4
	default:
		return 1
	}
}
