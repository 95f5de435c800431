package kmsctl

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kmscore/scanout/pkg/kms"
)

var (
	crtcID    uint32
	crtcIndex uint32
)

func addCrtcFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32Var(&crtcID, "crtc", 0, "CRTC object id")
	cmd.Flags().Uint32Var(&crtcIndex, "crtc-index", 0, "CRTC index within the device's resource list")
	_ = cmd.MarkFlagRequired("crtc")
}

func newPlanesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "planes",
		Short: "list the planes usable by a CRTC",
		RunE: func(cmd *cobra.Command, args []string) error {
			device, err := kms.Open(devicePath, cliLogger())
			if err != nil {
				return err
			}
			defer device.Close()

			registry := kms.NewPlaneClaimRegistry()
			surface, err := kms.NewSurface(device, crtcID, crtcIndex, registry, cliLogger())
			if err != nil {
				return err
			}

			ids, err := surface.Planes()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			log.Info().Int("count", len(ids)).Msg("planes listed")
			return nil
		},
	}
	addCrtcFlags(cmd)
	return cmd
}
