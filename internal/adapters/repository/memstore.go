package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/glucoscore/internal/domain/model"
)

// MemoryStore keeps observations in a slice that is always in store order.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   []model.Observation
	byID   map[int64]int
	nextID int64
	closed bool
	opts   options
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		byID: make(map[int64]int),
		opts: buildOptions(opts),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, o model.Observation) (model.Observation, error) {
	if err := ctx.Err(); err != nil {
		return model.Observation{}, fmt.Errorf("append observation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Observation{}, ErrClosed
	}

	s.nextID++
	o.ID = s.nextID
	o.CreatedAt = s.opts.clock()

	// A clock may run backwards; keep the slice ordered anyway.
	i := sort.Search(len(s.rows), func(i int) bool { return before(o, s.rows[i]) })
	s.rows = append(s.rows, model.Observation{})
	copy(s.rows[i+1:], s.rows[i:])
	s.rows[i] = o
	for j := i; j < len(s.rows); j++ {
		s.byID[s.rows[j].ID] = j
	}
	return o, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id int64) (model.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Observation{}, ErrClosed
	}
	i, ok := s.byID[id]
	if !ok {
		return model.Observation{}, ErrNotFound
	}
	return s.rows[i], nil
}

// Snapshot implements Store. The returned slice is a copy.
func (s *MemoryStore) Snapshot(ctx context.Context) ([]model.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("snapshot observations: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.Observation, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.rows), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
