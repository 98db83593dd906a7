package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/classpulse/classpulse/internal/auth"
	"github.com/classpulse/classpulse/internal/config"
	"github.com/classpulse/classpulse/internal/health"
	"github.com/classpulse/classpulse/internal/hub"
	"github.com/classpulse/classpulse/internal/session"
)

type Server struct {
	cfg            *config.Config
	hub            *hub.Hub
	broadcaster    *Broadcaster
	reporter       *health.Reporter
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	jwtSecret      string
}

func NewServer(cfg *config.Config, h *hub.Hub, broadcaster *Broadcaster, reporter *health.Reporter) *Server {
	s := &Server{
		cfg:            cfg,
		hub:            h,
		broadcaster:    broadcaster,
		reporter:       reporter,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
		jwtSecret:      cfg.Server.JWTSecret,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/api/health", s.handleHealth)
}

// clientCommand is what subscribers may send upstream: sequence acks
// and explicit resync requests.
type clientCommand struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	filter := r.URL.Query().Get("session")
	var fromSeq uint64
	if v := r.URL.Query().Get("from_seq"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			fromSeq = n
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn, filter, fromSeq)
	if err != nil {
		log.Printf("ws subscribe rejected for %s: %v", r.RemoteAddr, err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}
	log.Printf("dashboard subscribed: %s (filter=%q from_seq=%d)", r.RemoteAddr, filter, fromSeq)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("dashboard disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd clientCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			switch cmd.Type {
			case "ack":
				c.ack(cmd.Seq)
			case "resync":
				s.broadcaster.Resync(c)
			}
		}
	}()
}

// handleEvents is the relay-facing ingest endpoint. Terminal
// rejections use status codes the relay treats as non-retryable.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev session.ParticipationEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid event payload", http.StatusUnprocessableEntity)
		return
	}

	seq, duplicate, err := s.hub.Ingest(&ev)
	switch {
	case errors.Is(err, hub.ErrMalformedEvent):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case errors.Is(err, hub.ErrUnknownSession), errors.Is(err, hub.ErrSessionNotActive):
		http.Error(w, err.Error(), http.StatusGone)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"seq":       seq,
		"duplicate": duplicate,
	})
}

type startSessionRequest struct {
	ClassID     string `json:"classId"`
	ClassName   string `json:"className"`
	MeetingLink string `json:"meetingLink,omitempty"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.hub.Registry().Snapshot())
	case http.MethodPost:
		var req startSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClassID == "" {
			http.Error(w, "invalid start request", http.StatusBadRequest)
			return
		}
		sess, err := s.hub.StartSession(req.ClassID, req.ClassName, req.MeetingLink)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(sess)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Parse: /api/sessions/{id}/end
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "end" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	switch err := s.hub.EndSession(sessionID); {
	case errors.Is(err, hub.ErrUnknownSession):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, hub.ErrSessionNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.reporter.Snapshot(s.hub.ActiveCount(), s.broadcaster.ClientCount()))
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" && s.jwtSecret == "" {
		return true
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-ClassPulse-Token")
	}
	if token == "" {
		if a := r.Header.Get("Authorization"); strings.HasPrefix(a, "Bearer ") {
			token = strings.TrimPrefix(a, "Bearer ")
		}
	}
	if token == "" {
		return false
	}

	if s.authToken != "" && token == s.authToken {
		return true
	}
	if s.jwtSecret != "" {
		if _, err := auth.ValidateToken(s.jwtSecret, token); err == nil {
			return true
		}
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
