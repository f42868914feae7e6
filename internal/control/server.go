// internal/control/server.go
package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/searchlab/searchtrace/internal/capture"
	"github.com/searchlab/searchtrace/internal/config"
	"github.com/searchlab/searchtrace/internal/enrich"
	"github.com/searchlab/searchtrace/internal/worker"
)

// Server is the command surface the extension UI talks to, plus the signal
// intake feeding the capture pipeline.
type Server struct {
	worker     *worker.Worker
	capture    *capture.Capture
	exclusions *enrich.Exclusions
	cfg        *config.Config
	mux        *http.ServeMux
}

func NewServer(w *worker.Worker, c *capture.Capture, exclusions *enrich.Exclusions, cfg *config.Config) *Server {
	s := &Server{
		worker:     w,
		capture:    c,
		exclusions: exclusions,
		cfg:        cfg,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /control/start", s.handleStart)
	s.mux.HandleFunc("POST /control/stop", s.handleStop)
	s.mux.HandleFunc("GET /control/status", s.handleStatus)
	s.mux.HandleFunc("POST /control/upload", s.handleUpload)
	s.mux.HandleFunc("GET /control/excluded-domains", s.handleGetExcluded)
	s.mux.HandleFunc("PUT /control/excluded-domains", s.handlePutExcluded)
	s.mux.HandleFunc("POST /signals", s.handleSignal)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type startRequest struct {
	ParticipantID string `json:"participantId"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	sessionID, err := s.worker.Start(r.Context(), req.ParticipantID)
	switch {
	case errors.Is(err, worker.ErrEmptyParticipant):
		http.Error(w, `{"error":"participantId is required"}`, http.StatusBadRequest)
		return
	case errors.Is(err, worker.ErrAlreadyRecording):
		http.Error(w, `{"error":"a recording session is already active"}`, http.StatusConflict)
		return
	case err != nil:
		slog.Error("start recording failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	s.capture.Start()
	writeJSON(w, map[string]string{"sessionId": string(sessionID)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.worker.Stop(r.Context())
	switch {
	case errors.Is(err, worker.ErrNotRecording):
		http.Error(w, `{"error":"no recording session is active"}`, http.StatusConflict)
		return
	case err != nil:
		slog.Error("stop recording failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	s.capture.Stop()
	writeJSON(w, map[string]string{"sessionId": string(sessionID)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.worker.Status(r.Context()))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.worker.Flush(r.Context()); err != nil {
		slog.Error("forced flush failed", "error", err)
		http.Error(w, `{"error":"flush failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "flushed"})
}

func (s *Server) handleGetExcluded(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"domains": s.exclusions.List()})
}

type excludedRequest struct {
	Domains []string `json:"domains"`
}

func (s *Server) handlePutExcluded(w http.ResponseWriter, r *http.Request) {
	var req excludedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	s.exclusions.Set(req.Domains)
	if s.cfg != nil {
		s.cfg.ExcludedDomains = s.exclusions.List()
		if err := s.cfg.Save(); err != nil {
			slog.Warn("persist excluded domains failed", "error", err)
		}
	}
	writeJSON(w, map[string][]string{"domains": s.exclusions.List()})
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var sig capture.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if sig.Kind == "" {
		http.Error(w, `{"error":"kind is required"}`, http.StatusBadRequest)
		return
	}
	s.capture.HandleSignal(sig)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
