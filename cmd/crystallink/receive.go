package main

import (
	"github.com/spf13/cobra"

	"github.com/hoangnecon/CrystalLink/internal/config"
)

func receiveCmd() *cobra.Command {
	var (
		common     endpointFlags
		output     string
		displayHz  int
		announce   []string
		signalPort int
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Show a remote screen",
		Long: `Announce this machine on the LAN, lock on to the first sender that
answers and present the reassembled frames.

Frames are always available at /frame.png when --monitor is set; --output
additionally rewrites a PNG file on every displayed frame.

Examples:
  crystallink receive --monitor :9090
  crystallink receive --output screen.png --announce 192.168.1.255
  crystallink receive --link webrtc --signal-port 7000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := common.load(cmd, config.RoleReceive)
			if err != nil {
				return err
			}

			fs := cmd.Flags()
			if fs.Changed("output") {
				cfg.Output = output
			}
			if fs.Changed("display-hz") {
				cfg.DisplayHz = displayHz
			}
			if fs.Changed("announce") {
				cfg.AnnounceAddrs = announce
			}
			if fs.Changed("signal-port") {
				cfg.SignalPort = signalPort
			}

			return run(cmd.Context(), cfg)
		},
	}

	common.register(cmd)
	fs := cmd.Flags()
	fs.StringVarP(&output, "output", "o", "", "PNG file rewritten with every displayed frame")
	fs.IntVar(&displayHz, "display-hz", 30, "Presentation rate")
	fs.StringSliceVar(&announce, "announce", nil, "Announce to these addresses instead of the broadcast ones")
	fs.IntVar(&signalPort, "signal-port", 0, "Signaling server port (webrtc link, 0 picks one)")

	return cmd
}
