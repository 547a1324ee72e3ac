package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/glucoscore/internal/domain/model"
	"github.com/okian/glucoscore/pkg/logger"
	"github.com/pressly/goose/v3"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// createdAtLayout is fixed width so text order equals time order.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// goose keeps its configuration in package globals.
var migrateMu sync.Mutex

// SQLiteStore persists observations in the exam_entries table.
type SQLiteStore struct {
	db     *sql.DB
	opts   options
	closed atomic.Bool
}

// OpenSQLite opens (creating if needed) the database at path, applies pragmas
// and runs pending migrations.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: pragmas are per connection and writes are serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := Migrate(ctx, db, o.logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, opts: o}, nil
}

// Migrate applies the embedded goose migrations to db.
func Migrate(ctx context.Context, db *sql.DB, l logger.Logger) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	defer goose.SetBaseFS(nil)
	if l != nil {
		goose.SetLogger(logger.PrintfAdapter{L: l.Named("migrate")})
	} else {
		goose.SetLogger(goose.NopLogger())
	}

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, o model.Observation) (model.Observation, error) {
	if s.closed.Load() {
		return model.Observation{}, ErrClosed
	}
	o.CreatedAt = s.opts.clock().UTC()

	const query = `INSERT INTO exam_entries (created_at, avg_glucose, glucose_sd, difficulty, score) VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		o.CreatedAt.Format(createdAtLayout), o.AvgGlucose, o.GlucoseSD, o.Difficulty, o.Score)
	if err != nil {
		return model.Observation{}, fmt.Errorf("insert observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Observation{}, fmt.Errorf("read observation id: %w", err)
	}
	o.ID = id
	// Round-trip through the stored text so callers see what Snapshot returns.
	o.CreatedAt, _ = time.Parse(createdAtLayout, o.CreatedAt.Format(createdAtLayout))
	return o, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (model.Observation, error) {
	if s.closed.Load() {
		return model.Observation{}, ErrClosed
	}
	const query = `SELECT id, created_at, avg_glucose, glucose_sd, difficulty, score FROM exam_entries WHERE id = ?`
	o, err := scanObservation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Observation{}, ErrNotFound
	}
	if err != nil {
		return model.Observation{}, fmt.Errorf("get observation: %w", err)
	}
	return o, nil
}

// Snapshot implements Store.
func (s *SQLiteStore) Snapshot(ctx context.Context) ([]model.Observation, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	const query = `SELECT id, created_at, avg_glucose, glucose_sd, difficulty, score FROM exam_entries ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	out := []model.Observation{}
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(r rowScanner) (model.Observation, error) {
	var (
		o         model.Observation
		createdAt string
	)
	if err := r.Scan(&o.ID, &createdAt, &o.AvgGlucose, &o.GlucoseSD, &o.Difficulty, &o.Score); err != nil {
		return model.Observation{}, err
	}
	t, err := time.Parse(createdAtLayout, createdAt)
	if err != nil {
		// Rows written by other tools may use RFC 3339 with an offset.
		t, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return model.Observation{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
	}
	o.CreatedAt = t.UTC()
	return o, nil
}
