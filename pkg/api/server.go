package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/orchestrator"
)

// Server exposes the workflow API over HTTP.
type Server struct {
	orch *orchestrator.Orchestrator
	log  *slog.Logger
	rl   *IPRateLimiter
}

// NewServer wires the API around an orchestrator. A nil limiter disables
// per-IP throttling.
func NewServer(orch *orchestrator.Orchestrator, rl *IPRateLimiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{orch: orch, log: log, rl: rl}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/trends", s.handleStoreTrend)
	mux.HandleFunc("POST /api/workflows", s.handleSubmit)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	var h http.Handler = mux
	if s.rl != nil {
		h = s.rl.Middleware(h)
	}
	return RequestID(Logging(s.log, h))
}

// handleStoreTrend ingests a trend record so workflows can be submitted
// against it. Storing the same trend id twice is a no-op.
func (s *Server) handleStoreTrend(w http.ResponseWriter, r *http.Request) {
	var t contracts.Trend
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		WriteBadRequest(w, "invalid trend payload: "+err.Error())
		return
	}
	if err := s.orch.StoreTrend(r.Context(), t); err != nil {
		WriteFault(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"trend_id": t.ID})
}

type submitRequest struct {
	TrendID string `json:"trend_id"`
}

// handleSubmit starts a workflow for a stored trend.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request payload: "+err.Error())
		return
	}
	if req.TrendID == "" {
		WriteBadRequest(w, "trend_id is required")
		return
	}
	handle, err := s.orch.Submit(r.Context(), req.TrendID)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"content_id": handle.ContentID,
		"trend_id":   handle.TrendID,
	})
}

// handleStatus reports the current lifecycle state of a workflow.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.orch.Status(r.Context(), id)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
