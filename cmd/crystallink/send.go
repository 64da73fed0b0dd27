package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/hoangnecon/CrystalLink/internal/config"
)

func sendCmd() *cobra.Command {
	var (
		common   endpointFlags
		source   string
		fps      int
		quality  int
		lossless bool
		refresh  time.Duration
		wsURL    string
		pin      string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Stream this machine's screen",
		Long: `Capture frames and stream changed tiles to the first receiver that
announces itself on the LAN.

The source is either the built-in moving test pattern or an image file that
is reloaded whenever it changes on disk.

Examples:
  crystallink send
  crystallink send --source desktop.png --lossless
  crystallink send --link webrtc --ws-url 192.168.1.20:7000 --pin 123456`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := common.load(cmd, config.RoleSend)
			if err != nil {
				return err
			}

			fs := cmd.Flags()
			if fs.Changed("source") {
				cfg.Source = source
			}
			if fs.Changed("fps") {
				cfg.FPS = fps
			}
			if fs.Changed("quality") {
				cfg.Quality = quality
			}
			if fs.Changed("lossless") {
				cfg.Lossless = lossless
			}
			if fs.Changed("refresh") {
				cfg.RefreshInterval = config.Duration(refresh)
			}
			if fs.Changed("ws-url") {
				cfg.WSURL = wsURL
			}
			if cfg.WSURL != "" {
				if cfg.WSURL, err = normalizeWSURL(cfg.WSURL, pin); err != nil {
					return err
				}
			}

			return run(cmd.Context(), cfg)
		},
	}

	common.register(cmd)
	fs := cmd.Flags()
	fs.StringVarP(&source, "source", "s", config.SourcePattern, `Frame source: "pattern" or an image path`)
	fs.IntVarP(&fps, "fps", "f", 30, "Capture rate")
	fs.IntVarP(&quality, "quality", "q", 75, "JPEG quality for photographic tiles (1~100)")
	fs.BoolVar(&lossless, "lossless", false, "Prefer lossless coding; tiles that cannot fit a datagram are still JPEG coded")
	fs.DurationVar(&refresh, "refresh", 3*time.Second, "Interval between full refreshes")
	fs.StringVar(&wsURL, "ws-url", "", "Receiver's signaling URL (webrtc link)")
	fs.StringVar(&pin, "pin", "", "Signaling PIN shown by the receiver (webrtc link)")

	return cmd
}
