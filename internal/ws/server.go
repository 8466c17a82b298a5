// Package ws carries the server's two transports: the HTTP API the
// device posts readings to, and the websocket fan-out observers watch.
package ws

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/co2stream/backend/internal/config"
	"github.com/co2stream/backend/internal/extract"
	"github.com/co2stream/backend/internal/health"
	"github.com/co2stream/backend/internal/session"
)

type Server struct {
	cfg            *config.Config
	buffer         *session.Buffer
	hub            *Hub
	frontend       http.Handler
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewServer(cfg *config.Config, buffer *session.Buffer, hub *Hub, frontend http.Handler) *Server {
	s := &Server{
		cfg:            cfg,
		buffer:         buffer,
		hub:            hub,
		frontend:       frontend,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
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

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Post("/co2_data", s.handleIngest)
	r.Get("/ws", s.handleWS)
	r.Get("/stats", s.handleStats)
	r.Get("/healthz", s.handleHealth)
	r.Post("/upload_and_execute", s.handleUpload)

	if s.frontend != nil {
		r.Handle("/*", s.frontend)
	}
	return r
}

// corsMiddleware mirrors the permissive policy the device deployment
// runs with: readings come from embedded firmware on the local network,
// and the monitoring page may be served from another host.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	values, err := extract.Values(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "No valid data")
		return
	}

	accepted := s.buffer.Ingest(values)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"received_count": accepted,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade error")
		return
	}

	c := s.hub.AddClient(conn)

	// Observers only listen; whatever they send is read and discarded
	// until the connection drops.
	go func() {
		defer s.hub.RemoveClient(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type statsResponse struct {
	Status       string  `json:"status"`
	SessionID    string  `json:"session_id"`
	TotalPoints  int     `json:"total_points"`
	TotalBatches int     `json:"total_batches"`
	Average      float64 `json:"average"`
	Min          int32   `json:"min"`
	Max          int32   `json:"max"`
	Std          float64 `json:"std"`
	LastUpdate   string  `json:"last_update"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.buffer.Snapshot()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_data"})
		return
	}

	status := "ended"
	if stats.Status == session.Receiving {
		status = "active"
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Status:       status,
		SessionID:    stats.SessionID,
		TotalPoints:  stats.Points,
		TotalBatches: stats.Batches,
		Average:      stats.Average,
		Min:          stats.Min,
		Max:          stats.Max,
		Std:          stats.StdDev,
		LastUpdate:   stats.LastUpdate.Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := health.Snapshot(s.cfg.Storage.DataDir)
	snap.Observers = s.hub.ClientCount()
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	path := filepath.Join(s.cfg.Storage.UploadDir, name)
	dst, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save file: %v", err))
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save file: %v", err))
		return
	}

	log.Info().Str("file", name).Str("path", path).Msg("upload stored")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "file_saved",
		"filename": name,
		"message":  "File saved but NOT executed for security reasons.",
	})
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
	if err != nil || parsed.Host == "" {
		return false
	}

	host := parsed.Host
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

// writeError uses the {"detail": ...} shape the device firmware and the
// monitoring page already parse.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func ListenAndServe(host string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Info().Str("addr", addr).Msg("server listening")
	return http.ListenAndServe(addr, handler)
}
