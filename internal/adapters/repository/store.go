// Package repository defines the observation store and its backends.
package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/okian/glucoscore/internal/domain/model"
)

// Supported store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// Store is an append-only, ordered collection of observations.
//
// Snapshot order is created_at ascending, then id ascending. A Snapshot
// issued after a successful Append always contains that observation.
type Store interface {
	// Append assigns id and created_at and persists the observation.
	Append(ctx context.Context, o model.Observation) (model.Observation, error)

	// Get returns a stored observation. Returns ErrNotFound if id is unknown.
	Get(ctx context.Context, id int64) (model.Observation, error)

	// Snapshot returns every observation in store order.
	Snapshot(ctx context.Context) ([]model.Observation, error)

	// Count returns the number of stored observations.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Open constructs the backend named by driver. path is ignored by the
// memory driver.
func Open(ctx context.Context, driver, path string, opts ...Option) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(opts...), nil
	case DriverSQLite:
		s, err := OpenSQLite(ctx, path, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverBolt:
		s, err := OpenBolt(path, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// sortObservations puts observations in store order.
func sortObservations(obs []model.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		return before(obs[i], obs[j])
	})
}

func before(a, b model.Observation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
