package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/classpulse/classpulse/internal/config"
	"github.com/classpulse/classpulse/internal/dashboard"
	"github.com/classpulse/classpulse/internal/dashclient"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	wsURL := flag.String("url", "", "Override hub WebSocket URL")
	token := flag.String("token", "", "Auth token (if the hub requires it)")
	sessionID := flag.String("session", "", "Follow a single session instead of all of them")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *wsURL != "" {
		cfg.Dashboard.ServerURL = *wsURL
	}

	// Bubble Tea owns the terminal; route log output away from it.
	logFile, err := tea.LogToFile(os.DevNull, "")
	if err == nil {
		defer logFile.Close()
	}

	ws := dashclient.New(cfg.Dashboard.ServerURL, *token, *sessionID, dashclient.Options{
		ReconnectBaseDelay: cfg.Dashboard.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Dashboard.ReconnectMaxDelay,
	})

	m := dashboard.New(ws, cfg.Dashboard.FeedSize)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
