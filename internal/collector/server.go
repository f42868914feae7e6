// internal/collector/server.go
package collector

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/searchlab/searchtrace/internal/types"
)

// Server is the reference upload sink: a batch endpoint in front of the
// sqlite store.
type Server struct {
	store *Store
	mux   *http.ServeMux
}

func NewServer(store *Store) *Server {
	s := &Server{store: store, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /api/sessions/upload", s.handleUpload)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req types.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	duplicate, err := s.store.InsertUpload(&req)
	if err != nil {
		if errors.Is(err, ErrInvalidUpload) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("store upload failed", "upload_id", req.UploadID, "error", err)
		http.Error(w, `{"error":"failed to store upload"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"uploadId":  req.UploadID,
		"duplicate": duplicate,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.Sessions()
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []SessionSummary{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
