// Package api exposes the trading gateway over HTTP, WebSocket and a gRPC
// event stream.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/engine"
	"tradegate/internal/events"
	"tradegate/internal/store"
	"tradegate/internal/surveillance"
)

// Server serves the HTTP API.
type Server struct {
	engine  *engine.Engine
	surv    *surveillance.Engine
	store   store.Store
	archive store.ExecutionArchive
	events  *events.Dispatcher
	hub     *Hub
	log     *slog.Logger
	now     func() time.Time
}

// NewServer creates a Server. The WebSocket hub is fed by the dispatcher
// once Hub().Run is started.
func NewServer(eng *engine.Engine, surv *surveillance.Engine, st store.Store, disp *events.Dispatcher, log *slog.Logger) *Server {
	log = log.With("component", "api")
	return &Server{
		engine: eng,
		surv:   surv,
		store:  st,
		events: disp,
		hub:    NewHub(disp, log),
		log:    log,
		now:    time.Now,
	}
}

// SetArchive enables the archived execution history endpoint.
func (s *Server) SetArchive(a store.ExecutionArchive) { s.archive = a }

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/orders", s.handleSubmit)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("DELETE /api/v1/orders/{id}", s.handleCancel)
	mux.HandleFunc("POST /api/v1/orders/{id}/accept", s.handleAccept)
	mux.HandleFunc("POST /api/v1/orders/{id}/fills", s.handleFill)
	mux.HandleFunc("POST /api/v1/orders/{id}/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /api/v1/orders/{id}/executions", s.handleExecutions)

	mux.HandleFunc("PUT /api/v1/accounts/{id}", s.handlePutAccount)
	mux.HandleFunc("GET /api/v1/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("GET /api/v1/accounts/{id}/positions", s.handlePositions)
	mux.HandleFunc("GET /api/v1/accounts/{id}/orders", s.handleAccountOrders)
	mux.HandleFunc("GET /api/v1/accounts/{id}/executions/archive", s.handleArchivedExecutions)
	mux.HandleFunc("POST /api/v1/accounts/{id}/surveillance", s.handleScan)
	mux.HandleFunc("GET /api/v1/accounts/{id}/alerts", s.handleAlerts)

	mux.HandleFunc("PUT /api/v1/securities/{symbol}", s.handlePutSecurity)
	mux.HandleFunc("POST /api/v1/securities/{symbol}/restrictions", s.handleRestriction)
	mux.HandleFunc("POST /api/v1/securities/{symbol}/halts", s.handleHalt)

	mux.HandleFunc("GET /api/v1/anomalies", s.handleAnomalies)
	mux.HandleFunc("GET /api/v1/events", s.handleRecentEvents)
	mux.HandleFunc("GET /ws/events", s.hub.ServeWS)
}

// Handler returns an http.Handler with logging and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logMiddleware(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the WebSocket upgrade needs.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, ErrorResponse{Error: msg})
}

// writeEngineError maps engine errors onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var ce *domain.ComplianceError
	if errors.As(err, &ce) {
		writeJSONStatus(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Reasons: ce.Reasons})
		return
	}
	var te *domain.TransitionError
	if errors.As(err, &te) {
		writeJSONStatus(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Status: string(te.Current)})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidOrderParameters), errors.Is(err, domain.ErrInvalidFill):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountNotEligible):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSecurityNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrOverFill), errors.Is(err, domain.ErrExecutionConflict), errors.Is(err, domain.ErrInsufficientBuyingPower):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

// decodeBody decodes a JSON body into v and validates it. It writes the
// error response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if msg := validationError(v); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

// sinceParam parses the "since" query parameter as RFC 3339, defaulting to
// def.
func sinceParam(r *http.Request, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}

// limitParam parses the "n" query parameter, defaulting to def.
func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
