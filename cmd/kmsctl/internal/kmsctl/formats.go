package kmsctl

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kmscore/scanout/pkg/kms"
)

var (
	planeID   uint32
	planeType string
)

func newFormatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formats",
		Short: "list the (fourcc, modifier) pairs a plane supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			device, err := kms.Open(devicePath, cliLogger())
			if err != nil {
				return err
			}
			defer device.Close()

			pt := kms.PlaneTypeOverlay
			switch planeType {
			case "primary":
				pt = kms.PlaneTypePrimary
			case "cursor":
				pt = kms.PlaneTypeCursor
			}

			formats, err := kms.SupportedFormats(device, planeID, pt)
			if err != nil {
				return err
			}
			for _, f := range formats {
				fmt.Printf("%08x/%d\n", f.Fourcc, f.Modifier)
			}
			log.Info().Int("count", len(formats)).Msg("formats listed")
			return nil
		},
	}
	cmd.Flags().Uint32Var(&planeID, "plane", 0, "plane object id")
	cmd.Flags().StringVar(&planeType, "type", "overlay", "plane type: overlay, primary, or cursor")
	_ = cmd.MarkFlagRequired("plane")
	return cmd
}
