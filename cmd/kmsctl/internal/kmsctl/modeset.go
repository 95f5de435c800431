package kmsctl

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kmscore/scanout/pkg/kms"
)

var (
	connectorList string
	fbID          uint32
	modeWidth     uint16
	modeHeight    uint16
	modeRefresh   uint32
	modeClock     uint32
	testOnly      bool
)

func newModesetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modeset",
		Short: "set a mode and a primary plane framebuffer on a CRTC",
		RunE: func(cmd *cobra.Command, args []string) error {
			connectors, err := parseUint32List(connectorList)
			if err != nil {
				return err
			}

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

			if err := surface.SetConnectors(connectors); err != nil {
				return err
			}
			mode := kms.Mode{
				Clock:    modeClock,
				Hdisplay: modeWidth,
				Vdisplay: modeHeight,
				Vrefresh: modeRefresh,
			}
			if err := surface.UseMode(mode); err != nil {
				return err
			}
			if err := surface.ClaimPlane(planeID); err != nil {
				return err
			}
			cfg := &kms.PlaneConfig{
				FB:  fbID,
				Src: kms.RectF{Size: kms.SizeF{W: float64(modeWidth), H: float64(modeHeight)}},
				Dst: kms.RectI{Size: kms.Size{W: int32(modeWidth), H: int32(modeHeight)}},
			}
			if err := surface.SetPlane(planeID, cfg); err != nil {
				return err
			}
			if surface.CommitPending() {
				log.Debug().Msg("pending state differs from current, modeset will occur")
			}

			if testOnly {
				if err := surface.TestState(true); err != nil {
					return err
				}
				log.Info().Msg("modeset test passed")
				return nil
			}
			if err := surface.Commit(false); err != nil {
				return err
			}
			log.Info().Str("mode", mode.String()).Msg("modeset committed")
			return nil
		},
	}
	addCrtcFlags(cmd)
	cmd.Flags().StringVar(&connectorList, "connectors", "", "comma-separated connector object ids")
	cmd.Flags().Uint32Var(&planeID, "plane", 0, "primary plane object id")
	cmd.Flags().Uint32Var(&fbID, "fb", 0, "framebuffer object id")
	cmd.Flags().Uint16Var(&modeWidth, "width", 1920, "mode width in pixels")
	cmd.Flags().Uint16Var(&modeHeight, "height", 1080, "mode height in pixels")
	cmd.Flags().Uint32Var(&modeRefresh, "refresh", 60, "mode refresh rate in Hz")
	cmd.Flags().Uint32Var(&modeClock, "clock", 148500, "mode pixel clock in kHz")
	cmd.Flags().BoolVar(&testOnly, "test-only", false, "validate the commit without applying it (legacy devices have no test commit and perform the real modeset)")
	_ = cmd.MarkFlagRequired("connectors")
	_ = cmd.MarkFlagRequired("plane")
	_ = cmd.MarkFlagRequired("fb")
	return cmd
}

func parseUint32List(s string) ([]uint32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, uint32(v))
	}
	return out, nil
}
