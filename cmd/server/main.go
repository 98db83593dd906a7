package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/classpulse/classpulse/internal/config"
	"github.com/classpulse/classpulse/internal/health"
	"github.com/classpulse/classpulse/internal/hub"
	"github.com/classpulse/classpulse/internal/identity"
	"github.com/classpulse/classpulse/internal/store"
	"github.com/classpulse/classpulse/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	dbPath := flag.String("db", "", "Override database path")
	rosterPath := flag.String("roster", "", "Path to a roster file for identity resolution")
	genToken := flag.Bool("gen-token", false, "Generate an auth token and exit")
	flag.Parse()

	if *genToken {
		token, err := config.GenerateToken()
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		fmt.Println(token)
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	var resolver identity.Resolver
	if *rosterPath != "" {
		resolver, err = identity.LoadRoster(*rosterPath)
		if err != nil {
			log.Fatalf("Failed to load roster: %v", err)
		}
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	var h *hub.Hub
	broadcaster := ws.NewBroadcaster(func() hub.Message {
		return hub.Message{Type: hub.MsgSnapshot, Registry: h.Registry().Snapshot()}
	}, cfg.Hub.SubscriberBuffer, cfg.Hub.ReplayWindow, cfg.Server.MaxConnections)

	h = hub.New(st, resolver, broadcaster, hub.Options{
		InactivityTimeout: cfg.Hub.InactivityTimeout,
		ReaperInterval:    cfg.Hub.ReaperInterval,
		PersistRetries:    cfg.Hub.PersistRetries,
		PersistRetryDelay: cfg.Hub.PersistRetryDelay,
	})
	if err := h.Restore(); err != nil {
		log.Fatalf("Failed to restore sessions: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.RunReaper(ctx)

	server := ws.NewServer(cfg, h, broadcaster, health.NewReporter())
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		h.Close()
		st.Close()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
