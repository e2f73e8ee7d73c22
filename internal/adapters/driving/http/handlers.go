package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

const (
	// readyTimeout bounds each dependency ping of /ready
	readyTimeout = 3 * time.Second

	ensureTimeout = 25 * time.Second
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ReadyResponse lists the state of every checked dependency
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// StreamsResponse wraps the stream status list
type StreamsResponse struct {
	Streams []domain.StreamStatus `json:"streams"`
}

// Health endpoints

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady pings every dependency and answers 503 if any is down.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.dependencies))
	for name := range s.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := s.dependencies[name].Ping(ctx)
		cancel()

		if err != nil {
			s.logger.Warn("readiness check failed", "dependency", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Stream endpoints

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StreamsResponse{Streams: s.coordinator.Status()})
}

// handleGetStream returns one stream by checkpoint key.
func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	for _, st := range s.coordinator.Status() {
		if st.Stream.CheckpointKey == key {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, http.StatusNotFound, "stream not found")
}

// Index endpoints

func (s *Server) handleEnsureIndices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ensureTimeout)
	defer cancel()

	if err := s.coordinator.EnsureIndices(ctx); err != nil {
		s.logger.Error("ensure indices failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to ensure indices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
