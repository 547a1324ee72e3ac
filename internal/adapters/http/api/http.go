// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/glucoscore/internal/domain/dedupe"
	"github.com/okian/glucoscore/internal/domain/model"
	"github.com/okian/glucoscore/internal/domain/prediction"
	"github.com/okian/glucoscore/internal/domain/validate"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// IdempotencyKeyHeader carries the optional client idempotency key on writes.
const IdempotencyKeyHeader = "Idempotency-Key"

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Record validates and stores an observation. duplicate is true when the
	// idempotency key was already used.
	Record(ctx context.Context, raw map[string]any, idempotencyKey string) (o model.Observation, duplicate bool, err error)

	// Predict validates conditions and predicts a score from stored history.
	Predict(ctx context.Context, raw map[string]any) (prediction.Result, error)

	// Observations lists every stored observation in store order.
	Observations(ctx context.Context) ([]model.Observation, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	entriesHandler *EntriesHandler
	predictHandler *PredictHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		entriesHandler: NewEntriesHandler(deps),
		predictHandler: NewPredictHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/api/entries", MetricsMiddleware(s.entriesHandler.HandleEntries, "entries"))
	mux.HandleFunc("/api/predict", MetricsMiddleware(s.predictHandler.HandlePredict, "predict"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type validationResponse struct {
	Errors validate.Errors `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps a dependency error to its HTTP response.
func writeFailure(w http.ResponseWriter, op string, err error) {
	var verrs validate.Errors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, validationResponse{Errors: verrs})
	case errors.Is(err, dedupe.ErrInFlight):
		writeError(w, http.StatusConflict, "in_flight", WrapKind(op, ErrConflict, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, err))
	}
}

// readObject decodes the body as a JSON object. Anything else, including an
// empty or malformed body, yields an empty object so the validator reports
// every field as missing.
func readObject(w http.ResponseWriter, r *http.Request) map[string]any {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return map[string]any{}
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return map[string]any{}
	}
	return raw
}
