package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/hoangnecon/CrystalLink/internal/config"
	"github.com/hoangnecon/CrystalLink/internal/util"
)

// runInteractive asks for the few settings that matter when no subcommand
// is given. Everything else keeps its default.
func runInteractive(ctx context.Context) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Receive — Show a remote screen", "Send    — Stream this screen"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	link, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"LAN     — UDP broadcast discovery", "WebRTC  — Connect through a signaling URL"}).
		WithDefaultText("Select the link").
		Show()
	pterm.Println()

	var cfg config.Config
	if strings.HasPrefix(role, "Send") {
		cfg = config.Default(config.RoleSend)
	} else {
		cfg = config.Default(config.RoleReceive)
	}
	if strings.HasPrefix(link, "WebRTC") {
		cfg.Link = config.LinkWebRTC
	}

	switch {
	case cfg.Link == config.LinkWebRTC && cfg.Role == config.RoleSend:
		cfg.WSURL = askURL()
	case cfg.Link == config.LinkUDP && cfg.Role == config.RoleReceive:
		cfg.StreamPort = askPort("Stream port", cfg.StreamPort)
		cfg.DiscoveryPort = askPort("Sender discovery port", cfg.DiscoveryPort)
	case cfg.Link == config.LinkUDP:
		cfg.DiscoveryPort = askPort("Discovery port", cfg.DiscoveryPort)
	}

	if cfg.Role == config.RoleSend {
		src, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(`Frame source: an image path, or empty for the test pattern`).
			Show()
		pterm.Println()
		if src = strings.TrimSpace(src); src != "" {
			cfg.Source = src
		}
	}

	return run(ctx, cfg)
}

// askPort prompts for a port number until a valid one is entered. An empty
// answer keeps def.
func askPort(prompt string, def int) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("%s (1 ~ 65535, empty for %d)", prompt, def)).
			Show()

		raw = strings.TrimSpace(raw)
		if raw == "" {
			pterm.Println()
			return def
		}
		port, err := strconv.Atoi(raw)
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askURL prompts for the receiver's signaling address and PIN until they
// form a valid URL.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Signaling address shown by the receiver (e.g. 192.168.1.20:7000)").
			Show()
		pterm.Println()

		pin, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("PIN").
			Show()
		pterm.Println()

		wsURL, err := normalizeWSURL(raw, strings.TrimSpace(pin))
		if err == nil {
			return wsURL
		}

		util.LogWarning("invalid input: %v", err)
	}
}
