package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/glucoscore/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	open func(t *testing.T, opts ...Option) Store
}

func backends() []backend {
	return []backend{
		{
			name: DriverMemory,
			open: func(t *testing.T, opts ...Option) Store {
				return NewMemoryStore(opts...)
			},
		},
		{
			name: DriverSQLite,
			open: func(t *testing.T, opts ...Option) Store {
				s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "entries.db"), opts...)
				require.NoError(t, err)
				return s
			},
		},
		{
			name: DriverBolt,
			open: func(t *testing.T, opts ...Option) Store {
				s, err := OpenBolt(filepath.Join(t.TempDir(), "entries.bolt"), opts...)
				require.NoError(t, err)
				return s
			},
		},
	}
}

func sample(score float64) model.Observation {
	return model.Observation{AvgGlucose: 110, GlucoseSD: 12, Difficulty: 5, Score: score}
}

// fixedClock returns the same instant for every call.
func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// steppingClock returns the queued instants in order, repeating the last one.
func steppingClock(times ...time.Time) Clock {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestStoreContract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("empty store", func(t *testing.T) {
				s := b.open(t)
				t.Cleanup(func() { s.Close() })

				rows, err := s.Snapshot(ctx)
				require.NoError(t, err)
				assert.NotNil(t, rows)
				assert.Empty(t, rows)

				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, 0, n)
			})

			t.Run("append assigns ids and is readable", func(t *testing.T) {
				s := b.open(t)
				t.Cleanup(func() { s.Close() })

				first, err := s.Append(ctx, sample(70))
				require.NoError(t, err)
				second, err := s.Append(ctx, sample(80))
				require.NoError(t, err)

				assert.Positive(t, first.ID)
				assert.Greater(t, second.ID, first.ID)
				assert.False(t, first.CreatedAt.IsZero())

				rows, err := s.Snapshot(ctx)
				require.NoError(t, err)
				require.Len(t, rows, 2)
				assert.Equal(t, first.ID, rows[0].ID)
				assert.Equal(t, 80.0, rows[1].Score)

				got, err := s.Get(ctx, second.ID)
				require.NoError(t, err)
				assert.Equal(t, second.ID, got.ID)
				assert.Equal(t, second.Score, got.Score)
				assert.True(t, second.CreatedAt.Equal(got.CreatedAt))

				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, n)
			})

			t.Run("equal timestamps order by id", func(t *testing.T) {
				now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
				s := b.open(t, WithClock(fixedClock(now)))
				t.Cleanup(func() { s.Close() })

				for _, score := range []float64{10, 20, 30} {
					_, err := s.Append(ctx, sample(score))
					require.NoError(t, err)
				}

				rows, err := s.Snapshot(ctx)
				require.NoError(t, err)
				require.Len(t, rows, 3)
				for i := 1; i < len(rows); i++ {
					assert.Less(t, rows[i-1].ID, rows[i].ID)
				}
				assert.Equal(t, []float64{10, 20, 30}, []float64{rows[0].Score, rows[1].Score, rows[2].Score})
			})

			t.Run("created_at wins over id", func(t *testing.T) {
				base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
				s := b.open(t, WithClock(steppingClock(base.Add(time.Hour), base)))
				t.Cleanup(func() { s.Close() })

				late, err := s.Append(ctx, sample(10))
				require.NoError(t, err)
				early, err := s.Append(ctx, sample(20))
				require.NoError(t, err)

				rows, err := s.Snapshot(ctx)
				require.NoError(t, err)
				require.Len(t, rows, 2)
				assert.Equal(t, early.ID, rows[0].ID)
				assert.Equal(t, late.ID, rows[1].ID)
			})

			t.Run("unknown id", func(t *testing.T) {
				s := b.open(t)
				t.Cleanup(func() { s.Close() })

				_, err := s.Get(ctx, 42)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("closed store", func(t *testing.T) {
				s := b.open(t)
				require.NoError(t, s.Close())

				_, err := s.Append(ctx, sample(50))
				assert.ErrorIs(t, err, ErrClosed)
				_, err = s.Snapshot(ctx)
				assert.ErrorIs(t, err, ErrClosed)
				_, err = s.Count(ctx)
				assert.ErrorIs(t, err, ErrClosed)
			})
		})
	}
}

func TestStorePersistence(t *testing.T) {
	ctx := context.Background()

	t.Run(DriverSQLite, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "entries.db")
		s, err := OpenSQLite(ctx, path)
		require.NoError(t, err)
		stored, err := s.Append(ctx, sample(66))
		require.NoError(t, err)
		require.NoError(t, s.Close())

		reopened, err := OpenSQLite(ctx, path)
		require.NoError(t, err)
		t.Cleanup(func() { reopened.Close() })

		got, err := reopened.Get(ctx, stored.ID)
		require.NoError(t, err)
		assert.Equal(t, 66.0, got.Score)
		assert.True(t, stored.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run(DriverBolt, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "entries.bolt")
		s, err := OpenBolt(path)
		require.NoError(t, err)
		_, err = s.Append(ctx, sample(66))
		require.NoError(t, err)
		require.NoError(t, s.Close())

		reopened, err := OpenBolt(path)
		require.NoError(t, err)
		t.Cleanup(func() { reopened.Close() })

		next, err := reopened.Append(ctx, sample(67))
		require.NoError(t, err)
		assert.Equal(t, int64(2), next.ID)
	})
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "entries.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, Migrate(ctx, s.DB(), nil))

	var name string
	err = s.DB().QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_exam_entries_order'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "idx_exam_entries_order", name)
}

func TestSQLiteRejectsOutOfRangeRows(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "entries.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Append(ctx, model.Observation{AvgGlucose: 0, GlucoseSD: 1, Difficulty: 5, Score: 50})
	assert.Error(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, "", "")
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
		require.NoError(t, s.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(ctx, "SQLite", filepath.Join(t.TempDir(), "a.db"))
		require.NoError(t, err)
		assert.IsType(t, &SQLiteStore{}, s)
		require.NoError(t, s.Close())
	})

	t.Run("bolt", func(t *testing.T) {
		s, err := Open(ctx, DriverBolt, filepath.Join(t.TempDir(), "a.bolt"))
		require.NoError(t, err)
		assert.IsType(t, &BoltStore{}, s)
		require.NoError(t, s.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open(ctx, "postgres", "")
		assert.ErrorIs(t, err, ErrUnknownDriver)
	})
}
