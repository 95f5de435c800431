package kmsctl

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kmscore/scanout/pkg/kms"
)

var flipCount int

func newFlipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flip",
		Short: "page-flip an already-configured CRTC to a framebuffer, --count times",
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
			if err := surface.ClaimPlane(planeID); err != nil {
				return err
			}

			for i := 0; i < flipCount; i++ {
				cfg := &kms.PlaneConfig{
					FB:  fbID,
					Src: kms.RectF{Size: kms.SizeF{W: float64(modeWidth), H: float64(modeHeight)}},
					Dst: kms.RectI{Size: kms.Size{W: int32(modeWidth), H: int32(modeHeight)}},
				}
				if err := surface.SetPlane(planeID, cfg); err != nil {
					return err
				}
				if err := surface.PageFlip(true); err != nil {
					return err
				}
				log.Info().Int("iteration", i).Msg("page flip submitted")
				time.Sleep(16 * time.Millisecond)
			}
			return nil
		},
	}
	addCrtcFlags(cmd)
	cmd.Flags().Uint32Var(&planeID, "plane", 0, "primary plane object id")
	cmd.Flags().Uint32Var(&fbID, "fb", 0, "framebuffer object id to flip to")
	cmd.Flags().Uint16Var(&modeWidth, "width", 1920, "framebuffer width in pixels")
	cmd.Flags().Uint16Var(&modeHeight, "height", 1080, "framebuffer height in pixels")
	cmd.Flags().IntVar(&flipCount, "count", 1, "number of page flips to issue")
	_ = cmd.MarkFlagRequired("plane")
	_ = cmd.MarkFlagRequired("fb")
	return cmd
}
