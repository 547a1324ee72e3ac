// Package service composes the observation store, the validator and the
// predictor into the operations exposed over HTTP and the CLI.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/glucoscore/internal/adapters/repository"
	"github.com/okian/glucoscore/internal/domain/dedupe"
	"github.com/okian/glucoscore/internal/domain/model"
	"github.com/okian/glucoscore/internal/domain/prediction"
	"github.com/okian/glucoscore/internal/domain/validate"
	"github.com/okian/glucoscore/pkg/logger"
	"github.com/okian/glucoscore/pkg/metrics"
)

// Service records observations and predicts exam scores from them.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	ownsStore bool
	deduper   dedupe.Deduper
	predictor prediction.Predictor

	// Configuration
	dedupeSize      int
	maxTrainingRows int

	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the observation store. Without it Start opens an
// in-memory store which Stop closes.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithDedupeSize sets the number of idempotency keys kept in memory.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxTrainingRows limits training to the most recent n observations.
// Zero means every stored observation is used.
func WithMaxTrainingRows(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxTrainingRows = n
		}
	}
}

// WithPredictor replaces the default least squares predictor.
func WithPredictor(p prediction.Predictor) Option {
	return func(s *Service) {
		if p != nil {
			s.predictor = p
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dedupeSize: 10000,
		predictor:  prediction.OLS{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start prepares the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	if s.store == nil {
		s.store = repository.NewMemoryStore(repository.WithLogger(s.logger))
		s.ownsStore = true
		s.logger.Info(ctx, "using in-memory store")
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	if n, err := s.store.Count(ctx); err == nil {
		metrics.UpdateObservationCount(n)
	}

	s.started = true
	s.logger.Info(ctx, "prediction service started",
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("maxTrainingRows", s.maxTrainingRows),
	)
	return nil
}

// Stop releases the service components. An injected store is left open
// for its owner to close.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(context.Background(), "failed to close store", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}

	s.started = false
	s.logger.Info(context.Background(), "prediction service stopped")
}

func (s *Service) components() (repository.Store, dedupe.Deduper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.deduper, nil
}

// Record validates raw and appends it to the store. When idempotencyKey is
// set and was used before, the previously stored observation is returned
// with duplicate set to true.
func (s *Service) Record(ctx context.Context, raw map[string]any, idempotencyKey string) (model.Observation, bool, error) {
	store, deduper, err := s.components()
	if err != nil {
		return model.Observation{}, false, err
	}

	values, verrs := validate.Observation.Validate(raw)
	if verrs != nil {
		recordValidationFailures(validate.Observation.Name(), verrs)
		return model.Observation{}, false, verrs
	}

	if idempotencyKey != "" {
		id, seen := deduper.Reserve(ctx, idempotencyKey)
		if seen {
			if id == 0 {
				return model.Observation{}, false, dedupe.ErrInFlight
			}
			metrics.RecordObservationDuplicate()
			o, err := store.Get(ctx, id)
			if err != nil {
				return model.Observation{}, false, fmt.Errorf("replay observation %d: %w", id, err)
			}
			s.logger.Debug(ctx, "idempotent replay",
				logger.String("key", idempotencyKey),
				logger.Int64("id", id),
			)
			return o, true, nil
		}
	}

	start := time.Now()
	stored, err := store.Append(ctx, model.ObservationFrom(values))
	metrics.RecordStoreAppendLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	if err != nil {
		if idempotencyKey != "" {
			deduper.Release(ctx, idempotencyKey)
		}
		metrics.RecordStoreError("append")
		s.logger.Error(ctx, "failed to append observation", logger.Error(err))
		return model.Observation{}, false, fmt.Errorf("record observation: %w", err)
	}
	if idempotencyKey != "" {
		deduper.Commit(ctx, idempotencyKey, stored.ID)
		metrics.UpdateDedupeSize(deduper.Size())
	}

	metrics.RecordObservationRecorded()
	if n, err := store.Count(ctx); err == nil {
		metrics.UpdateObservationCount(n)
	}
	s.logger.Debug(ctx, "observation recorded",
		logger.Int64("id", stored.ID),
		logger.Float64("score", stored.Score),
	)
	return stored, false, nil
}

// Predict validates raw conditions and predicts a score from the current history.
func (s *Service) Predict(ctx context.Context, raw map[string]any) (prediction.Result, error) {
	store, _, err := s.components()
	if err != nil {
		return prediction.Result{}, err
	}

	values, verrs := validate.Conditions.Validate(raw)
	if verrs != nil {
		recordValidationFailures(validate.Conditions.Name(), verrs)
		return prediction.Result{}, verrs
	}

	start := time.Now()
	history, err := store.Snapshot(ctx)
	metrics.RecordStoreSnapshotLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	if err != nil {
		metrics.RecordStoreError("snapshot")
		s.logger.Error(ctx, "failed to snapshot observations", logger.Error(err))
		return prediction.Result{}, fmt.Errorf("load history: %w", err)
	}
	history = s.window(history)

	fitStart := time.Now()
	res := s.predictor.Predict(model.ConditionsFrom(values), history)
	metrics.RecordPrediction(res.Model.Type, res.Model.NTrainingRows, float64(time.Since(fitStart).Nanoseconds())/1e6)
	if res.Model.R2 != nil {
		metrics.UpdateLastR2(*res.Model.R2)
	}

	s.logger.Debug(ctx, "prediction computed",
		logger.String("strategy", res.Model.Type),
		logger.Int("rows", res.Model.NTrainingRows),
		logger.Float64("predicted", res.PredictedScore),
	)
	return res, nil
}

// window keeps the most recent maxTrainingRows observations.
func (s *Service) window(history []model.Observation) []model.Observation {
	if s.maxTrainingRows > 0 && len(history) > s.maxTrainingRows {
		return history[len(history)-s.maxTrainingRows:]
	}
	return history
}

// Observations returns every stored observation in store order.
func (s *Service) Observations(ctx context.Context) ([]model.Observation, error) {
	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	rows, err := store.Snapshot(ctx)
	if err != nil {
		metrics.RecordStoreError("snapshot")
		return nil, fmt.Errorf("list observations: %w", err)
	}
	return rows, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":         s.started,
		"dedupeSize":      s.dedupeSize,
		"maxTrainingRows": s.maxTrainingRows,
	}

	if s.started {
		if n, err := s.store.Count(context.Background()); err == nil {
			stats["observations"] = n
			metrics.UpdateObservationCount(n)
		}
		stats["idempotencyKeys"] = s.deduper.Size()
		metrics.UpdateDedupeSize(s.deduper.Size())
	}

	return stats
}

func recordValidationFailures(schema string, errs validate.Errors) {
	for field := range errs {
		metrics.RecordValidationFailure(schema, field)
	}
}
