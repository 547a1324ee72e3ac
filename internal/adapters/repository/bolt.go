package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/okian/glucoscore/internal/domain/model"
	"go.etcd.io/bbolt"
)

const observationsBucket = "observations"

// BoltStore persists observations in a single bbolt bucket keyed by the
// big-endian sequence number. Values are JSON encoded observations.
type BoltStore struct {
	db     *bbolt.DB
	opts   options
	closed atomic.Bool
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string, opts ...Option) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(observationsBucket)); err != nil {
			return fmt.Errorf("create observations bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, opts: buildOptions(opts)}, nil
}

// Append implements Store.
func (s *BoltStore) Append(ctx context.Context, o model.Observation) (model.Observation, error) {
	if s.closed.Load() {
		return model.Observation{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return model.Observation{}, fmt.Errorf("append observation: %w", err)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(observationsBucket))

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		o.ID = int64(seq)
		o.CreatedAt = s.opts.clock().UTC()

		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshal observation: %w", err)
		}
		return b.Put(itob(seq), data)
	})
	if err != nil {
		return model.Observation{}, fmt.Errorf("append observation: %w", err)
	}
	return o, nil
}

// Get implements Store.
func (s *BoltStore) Get(_ context.Context, id int64) (model.Observation, error) {
	if s.closed.Load() {
		return model.Observation{}, ErrClosed
	}
	if id <= 0 {
		return model.Observation{}, ErrNotFound
	}

	var o model.Observation
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(observationsBucket)).Get(itob(uint64(id)))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &o)
	})
	if err != nil {
		return model.Observation{}, err
	}
	return o, nil
}

// Snapshot implements Store. Keys are in id order; the result is re-sorted
// by creation time since a clock is not guaranteed to be monotonic.
func (s *BoltStore) Snapshot(ctx context.Context) ([]model.Observation, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("snapshot observations: %w", err)
	}

	out := []model.Observation{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(observationsBucket)).ForEach(func(k, v []byte) error {
			var o model.Observation
			if err := json.Unmarshal(v, &o); err != nil {
				return fmt.Errorf("unmarshal observation %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, o)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortObservations(out)
	return out, nil
}

// Count implements Store.
func (s *BoltStore) Count(_ context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(observationsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close implements Store.
func (s *BoltStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
