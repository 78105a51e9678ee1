// Package api provides the HTTP server and handlers.
package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/swapisticated/Astro-Repo/internal/events"
	"github.com/swapisticated/Astro-Repo/internal/github"
	"github.com/swapisticated/Astro-Repo/internal/llm"
	"github.com/swapisticated/Astro-Repo/internal/logging"
	"github.com/swapisticated/Astro-Repo/internal/metrics"
	"github.com/swapisticated/Astro-Repo/internal/prompt"
	"github.com/swapisticated/Astro-Repo/internal/response"
	"github.com/swapisticated/Astro-Repo/internal/session"
	"github.com/swapisticated/Astro-Repo/internal/universe"
	"github.com/swapisticated/Astro-Repo/pkg/protocol"
	"github.com/swapisticated/Astro-Repo/pkg/tree"
)

// Pool gzip writers to reduce allocations on tree endpoints.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

var validate = validator.New()

// Deps bundles what the server needs.
type Deps struct {
	Sessions    *session.Manager
	Source      session.TreeSource
	LLM         session.Generator
	Profiles    *universe.Service
	Broadcaster *events.Broadcaster
	Options     session.Options
	// GraphDepth is used when a graph request has no depth parameter.
	GraphDepth int
}

// Server is the HTTP server.
type Server struct {
	sessions    *session.Manager
	source      session.TreeSource
	llm         session.Generator
	profiles    *universe.Service
	broadcaster *events.Broadcaster
	opts        session.Options
	graphDepth  int
}

// NewServer creates a new server.
func NewServer(d Deps) *Server {
	return &Server{
		sessions:    d.Sessions,
		source:      d.Source,
		llm:         d.LLM,
		profiles:    d.Profiles,
		broadcaster: d.Broadcaster,
		opts:        d.Options,
		graphDepth:  d.GraphDepth,
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Stateless endpoints
	mux.HandleFunc("GET /api/v1/children", s.handleChildren)
	mux.HandleFunc("POST /api/v1/file-summary", s.handleFileSummary)
	mux.HandleFunc("POST /api/v1/profile/ask", s.handleProfileAsk)

	// Sessions
	mux.HandleFunc("POST /api/v1/sessions", s.handleOpenSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/tree", s.handleTree)
	mux.HandleFunc("POST /api/v1/sessions/{id}/expand", s.handleExpand)
	mux.HandleFunc("GET /api/v1/sessions/{id}/graph", s.handleGraph)
	mux.HandleFunc("POST /api/v1/sessions/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/v1/sessions/{id}/summarize", s.handleSummarize)
	mux.HandleFunc("POST /api/v1/sessions/{id}/ask", s.handleAsk)
	mux.HandleFunc("POST /api/v1/sessions/{id}/find", s.handleFind)
	mux.HandleFunc("GET /api/v1/sessions/{id}/overview", s.handleOverview)

	// SSE endpoint
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", s.handleEvents)

	// Metrics sits inside logging so it sees the pattern the mux sets.
	return logging.Middleware(metrics.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

// rateLimiter is implemented by tree sources that track the upstream
// request budget.
type rateLimiter interface {
	RateLimit() (remaining int, reset time.Time)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"sessions":    s.sessions.Len(),
		"subscribers": s.broadcaster.Total(),
	}
	if rl, ok := s.source.(rateLimiter); ok {
		if remaining, reset := rl.RateLimit(); remaining >= 0 {
			body["upstream_rate_remaining"] = remaining
			body["upstream_rate_reset"] = reset.UTC().Format(time.RFC3339)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// sendRaw writes pre-encoded JSON, gzipped when the client accepts it.
func (s *Server) sendRaw(w http.ResponseWriter, r *http.Request, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		gw.Write(data)
		gw.Close()
		gzipPool.Put(gw)
		return
	}
	w.Write(data)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendFailure maps err to a status code. Completion failures are reported
// with their stable placeholder text.
func (s *Server) sendFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if llm.IsProviderError(err) {
		msg = llm.PlaceholderFor(err)
	}

	log := logging.WithContext(r.Context())
	if code >= 500 {
		log.Error("request failed", zap.Int("status", code), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", code), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error:     msg,
		Code:      code,
		Details:   err.Error(),
		RequestID: logging.GetRequestID(r.Context()),
	})
}

func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownSession),
		errors.Is(err, tree.ErrNotFound),
		errors.Is(err, prompt.ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(err, session.ErrWrongKind),
		errors.Is(err, prompt.ErrMissingField):
		return http.StatusBadRequest
	case errors.Is(err, github.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, llm.ErrMissingCredential):
		return http.StatusServiceUnavailable
	case errors.Is(err, llm.ErrProviderUnavailable),
		errors.Is(err, llm.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, response.ErrNotStructured):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if code := github.StatusCode(err); code != 0 {
		if code >= 500 {
			return http.StatusBadGateway
		}
		return code
	}
	return http.StatusInternalServerError
}
