package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classpulse/classpulse/internal/config"
	"github.com/classpulse/classpulse/internal/observer"
	"github.com/classpulse/classpulse/internal/relay"
	"github.com/classpulse/classpulse/internal/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	serverURL := flag.String("server", "", "Override hub base URL")
	token := flag.String("token", "", "Auth token for the hub")
	classID := flag.String("class", "", "Class identifier (required)")
	className := flag.String("name", "", "Human-readable class name")
	meetingLink := flag.String("link", "", "Meeting link recorded on the session")
	streamPath := flag.String("stream", "", "Tail a JSONL export stream instead of simulating")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Seed for the simulated meeting")
	flag.Parse()

	if *classID == "" {
		fmt.Fprintln(os.Stderr, "tracker: -class is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *serverURL != "" {
		cfg.Tracker.ServerURL = *serverURL
	}

	var adapter observer.SignalAdapter
	if *streamPath != "" {
		adapter = observer.NewFileAdapter(*streamPath)
	} else {
		log.Println("No export stream given, simulating a meeting")
		adapter = observer.NewSimAdapter(nil, *seed)
	}

	name := *className
	if name == "" {
		name = *classID
	}
	sess, err := startSession(cfg.Tracker.ServerURL, *token, *classID, name, *meetingLink)
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	log.Printf("Tracking session %s for class %s (adapter %s)", sess.ID, *classID, adapter.Name())

	// The observer and the relay get separate contexts: on shutdown the
	// observer stops first so no new events arrive, while the relay keeps
	// its context alive until the queued tail has flushed.
	obsCtx, obsCancel := context.WithCancel(context.Background())
	defer obsCancel()
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()

	sender := relay.NewHTTPSender(cfg.Tracker.ServerURL, *token, cfg.Tracker.SendTimeout)
	rel := relay.New(sender, relay.Options{
		QueueBound:     cfg.Tracker.QueueBound,
		DedupBucket:    cfg.Tracker.DebounceWindow,
		RetryBaseDelay: cfg.Tracker.RetryBaseDelay,
		RetryMaxDelay:  cfg.Tracker.RetryMaxDelay,
	})
	if err := rel.Start(relayCtx, sess.ID); err != nil {
		log.Fatalf("Failed to start relay: %v", err)
	}

	obs := observer.New(adapter, cfg.Tracker.PollInterval, cfg.Tracker.DebounceWindow, rel.Enqueue)
	go obs.Run(obsCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Stopping: flushing queued events...")
	obsCancel()
	// An unreachable hub must not hang shutdown forever.
	flushTimeout := cfg.Tracker.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = 15 * time.Second
	}
	flushGuard := time.AfterFunc(flushTimeout, func() {
		log.Printf("Flush did not finish within %v, abandoning remaining queue", flushTimeout)
		relayCancel()
	})
	if err := rel.Stop(); err != nil {
		log.Printf("Relay stop: %v", err)
	}
	flushGuard.Stop()
	relayCancel()
	if dropped := rel.Dropped(); dropped > 0 {
		log.Printf("WARNING: %d events were dropped under backpressure", dropped)
	}
	if err := endSession(cfg.Tracker.ServerURL, *token, sess.ID); err != nil {
		log.Printf("Failed to end session: %v", err)
	}
	log.Printf("Session %s ended", sess.ID)
}

func startSession(baseURL, token, classID, className, meetingLink string) (*session.Session, error) {
	body, err := json.Marshal(map[string]string{
		"classId":     classID,
		"className":   className,
		"meetingLink": meetingLink,
	})
	if err != nil {
		return nil, err
	}

	resp, err := doRequest(baseURL+"/api/sessions", token, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hub returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var sess session.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func endSession(baseURL, token, sessionID string) error {
	resp, err := doRequest(baseURL+"/api/sessions/"+sessionID+"/end", token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func doRequest(url, token string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}
