// Command crystallink is the CLI entry point.
//
// A sender captures its screen, ships only the changed tiles over UDP and a
// receiver on the same LAN reassembles and presents them. Peers find each
// other by broadcast; --link webrtc carries the same datagrams over a
// DataChannel when broadcast cannot reach.
//
// Run with a subcommand (send, receive, version) or with none for the
// interactive prompts.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/hoangnecon/CrystalLink/internal/app"
	"github.com/hoangnecon/CrystalLink/internal/config"
	"github.com/hoangnecon/CrystalLink/internal/util"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "crystallink",
		Short: "Low-latency LAN screen mirroring",
		Long: `CrystalLink mirrors one machine's screen to another over the local network.

Only changed 32x32 tiles are sent, each compressed with the scheme that
suits its content. Datagrams are fire-and-forget; a periodic full refresh
repairs whatever the network loses.

Examples:
  crystallink receive --output screen.png
  crystallink send --source pattern --fps 60
  crystallink`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context())
		},
	}

	rootCmd.AddCommand(
		sendCmd(),
		receiveCmd(),
		versionCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// run validates cfg and drives the chosen role until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	if cfg.Debug {
		util.EnableDebug()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	pterm.Info.Printfln("CrystalLink — v%s", version)
	pterm.Println()

	var err error
	switch cfg.Role {
	case config.RoleSend:
		err = app.RunSender(ctx, cfg)
	default:
		err = app.RunReceiver(ctx, cfg)
	}
	if err != nil {
		return err
	}

	util.LogInfo("session closed")
	return nil
}
