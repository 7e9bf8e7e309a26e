package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/aretw0/goplan/internal/logging"
	"github.com/aretw0/goplan/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the subset of the planner engine served over HTTP.
type Engine interface {
	Start(ctx context.Context, req domain.StartRequest) (domain.Outcome, error)
	Resume(ctx context.Context, conversationID, input string) (domain.Outcome, error)
	Status(ctx context.Context, conversationID string) (domain.StatusReport, error)
	Cancel(ctx context.Context, conversationID string) error
	List(ctx context.Context) ([]string, error)
	Subscribe(conversationID string) (<-chan domain.Event, func())
}

// Server serves the planner API.
type Server struct {
	engine       Engine
	logger       *slog.Logger
	metrics      http.Handler
	maxInput     int
	pingInterval time.Duration
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsHandler replaces the default Prometheus handler served at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithMaxInputSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxInput = n
		}
	}
}

// WithPingInterval sets how often idle event streams receive a keep-alive comment.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		engine:       engine,
		logger:       logging.NewNop(),
		metrics:      promhttp.Handler(),
		maxInput:     DefaultMaxInputSize,
		pingInterval: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.Health)
	r.Handle("/metrics", s.metrics)
	r.Route("/plans", func(r chi.Router) {
		r.Post("/", s.StartPlan)
		r.Get("/", s.ListPlans)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetStatus)
			r.Delete("/", s.CancelPlan)
			r.Post("/resume", s.ResumePlan)
			r.Get("/events", s.SubscribeEvents)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type startBody struct {
	ConversationID string             `json:"conversation_id"`
	Input          string             `json:"input"`
	Preferences    domain.Preferences `json:"preferences"`
}

type resumeBody struct {
	Input string `json:"input"`
}

// PlanResponse is the outcome of a start or resume call.
type PlanResponse struct {
	ConversationID string                   `json:"conversation_id"`
	Status         domain.Status            `json:"status"`
	Question       any                      `json:"question,omitempty"`
	PendingStep    string                   `json:"pending_step,omitempty"`
	FinalOutput    string                   `json:"final_output,omitempty"`
	Results        map[string]domain.Result `json:"results,omitempty"`
	Errors         []domain.ErrorRecord     `json:"errors,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartPlan handles POST /plans.
func (s *Server) StartPlan(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if !s.decode(w, r, &body) {
		return
	}
	input, err := SanitizeInput(body.Input, s.maxInput)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out, err := s.engine.Start(r.Context(), domain.StartRequest{
		ConversationID: body.ConversationID,
		Input:          input,
		Preferences:    body.Preferences,
	})
	s.writeOutcome(w, out, err)
}

// ResumePlan handles POST /plans/{id}/resume.
func (s *Server) ResumePlan(w http.ResponseWriter, r *http.Request) {
	var body resumeBody
	if !s.decode(w, r, &body) {
		return
	}
	input, err := SanitizeInput(body.Input, s.maxInput)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out, err := s.engine.Resume(r.Context(), chi.URLParam(r, "id"), input)
	s.writeOutcome(w, out, err)
}

// GetStatus handles GET /plans/{id}.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CancelPlan handles DELETE /plans/{id}.
func (s *Server) CancelPlan(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPlans handles GET /plans.
func (s *Server) ListPlans(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string][]string{"conversations": ids})
}

// SubscribeEvents handles GET /plans/{id}/events (SSE).
// The stream ends when the conversation's current or next call returns.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.engine.Subscribe(chi.URLParam(r, "id"))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("event encode failed", "conversation_id", e.ConversationID, "err", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Type, data)
			flusher.Flush()
		}
	}
}

// -- Helpers --

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, int64(s.maxInput)*2+4096)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, ErrInputTooLarge)
			return false
		}
		s.logger.Warn("invalid request body", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeOutcome(w http.ResponseWriter, out domain.Outcome, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(out))
}

func toResponse(out domain.Outcome) PlanResponse {
	st := out.State
	resp := PlanResponse{
		ConversationID: st.ConversationID,
		Status:         st.Status,
		FinalOutput:    st.FinalOutput,
		Results:        st.Results,
		Errors:         st.Errors,
	}
	if out.Handle != nil {
		resp.Question = out.Handle.Payload
		resp.PendingStep = out.Handle.Step
	}
	return resp
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInputTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidUTF8), errors.Is(err, ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAwaitingInput),
		errors.Is(err, domain.ErrConversationBusy),
		errors.Is(err, domain.ErrConversationExists),
		errors.Is(err, domain.ErrDiscarded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInfrastructure):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}
