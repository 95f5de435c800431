package kmsctl

import (
	"context"
	"log/slog"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var devicePath string

func init() { //nolint:gochecknoinits
	NewRootCmd()
}

// NewRootCmd builds the kmsctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kmsctl",
		Short: "kmsctl",
		Long:  "Drive a single DRM scan-out surface directly from the CLI.",
	}
	root.PersistentFlags().StringVar(&devicePath, "device", "/dev/dri/card0", "DRM device node")

	root.AddCommand(newPlanesCmd())
	root.AddCommand(newFormatsCmd())
	root.AddCommand(newModesetCmd())
	root.AddCommand(newFlipCmd())
	return root
}

// Execute runs the root command, printing human-readable output through
// zerolog's console writer while pkg/kms logs structured slog records
// underneath.
func Execute() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	root := NewRootCmd()
	root.SetContext(context.Background())
	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("kmsctl failed")
	}
}

func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
