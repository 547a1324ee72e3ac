package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/glucoscore/pkg/logger"
)

// Run seeds the service and verifies predictions against the truth.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("seed")

	log.Info(ctx, "starting seed run",
		logger.String("baseURL", config.BaseURL),
		logger.Int("count", config.Count),
		logger.Int("workers", config.Workers),
		logger.Float64("noise", config.Noise),
		logger.Any("seed", config.Seed))

	client := NewClient(config.BaseURL, config.Timeout)

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate rows
	gen := NewGenerator(config.Seed, config.Truth, config.Noise)
	rows := gen.Rows(config.Count)
	stats.Generated = len(rows)

	// Step 3: Submit concurrently
	if err := submitRows(ctx, client, config.Workers, rows, stats); err != nil {
		return stats, fmt.Errorf("submission failed: %w", err)
	}

	// Step 4: Repeat some posts to check idempotent replay
	if err := replayRows(ctx, client, rows, config.Replays, stats); err != nil {
		return stats, fmt.Errorf("replay check failed: %w", err)
	}

	// Step 5: Probe predictions
	if err := probe(ctx, client, gen, config, stats); err != nil {
		return stats, fmt.Errorf("prediction check failed: %w", err)
	}

	if config.OutputFile != "" {
		if err := saveRows(config.OutputFile, rows); err != nil {
			log.Warn(ctx, "failed to save rows to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	log.Info(ctx, "seed run completed",
		logger.Int("created", stats.Created),
		logger.Int("replayed", stats.Replayed),
		logger.Int("failed", stats.Failed),
		logger.Float64("maxError", stats.MaxError),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

// submitRows posts rows through a fixed worker pool.
func submitRows(ctx context.Context, client *Client, workers int, rows []Row, stats *Stats) error {
	if workers < 1 {
		workers = 1
	}

	var submitted, created, replayed, failed int64
	rowCh := make(chan Row, workers*workerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range rowCh {
				atomic.AddInt64(&submitted, 1)
				_, isNew, err := client.Record(ctx, row.Observation, row.Key)
				switch {
				case err != nil:
					atomic.AddInt64(&failed, 1)
					logger.Get().Debug(ctx, "post failed", logger.String("key", row.Key), logger.Error(err))
				case isNew:
					atomic.AddInt64(&created, 1)
				default:
					atomic.AddInt64(&replayed, 1)
				}
			}
		}()
	}

	go func() {
		defer close(rowCh)
		for _, row := range rows {
			select {
			case <-ctx.Done():
				return
			case rowCh <- row:
			}
		}
	}()

	wg.Wait()

	stats.Submitted = int(submitted)
	stats.Created = int(created)
	stats.Replayed = int(replayed)
	stats.Failed = int(failed)

	if err := ctx.Err(); err != nil {
		return err
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d posts failed", stats.Failed, stats.Submitted)
	}
	return nil
}

// replayRows re-posts the first n rows with their original keys. Each must
// come back as a replay of the stored row.
func replayRows(ctx context.Context, client *Client, rows []Row, n int, stats *Stats) error {
	if n > len(rows) {
		n = len(rows)
	}
	for _, row := range rows[:n] {
		first, _, err := client.Record(ctx, row.Observation, row.Key)
		if err != nil {
			return err
		}
		again, isNew, err := client.Record(ctx, row.Observation, row.Key)
		if err != nil {
			return err
		}
		if isNew || again.ID != first.ID {
			return fmt.Errorf("key %s stored twice (ids %d and %d)", row.Key, first.ID, again.ID)
		}
		stats.Replayed++
	}
	return nil
}

// probe compares predictions at fresh conditions against the truth.
func probe(ctx context.Context, client *Client, gen *Generator, config *Config, stats *Stats) error {
	for i := 0; i < config.Probes; i++ {
		cond := gen.Conditions()
		res, err := client.Predict(ctx, cond)
		if err != nil {
			return err
		}
		stats.Probes++
		stats.LastResult = res

		diff := math.Abs(res.PredictedScore - config.Truth.Apply(cond))
		stats.MaxError = math.Max(stats.MaxError, diff)
		if config.Tolerance > 0 && diff > config.Tolerance {
			return fmt.Errorf("probe %d: predicted %.2f, truth %.2f (model %s, %d rows)",
				i, res.PredictedScore, config.Truth.Apply(cond), res.Model.Type, res.Model.NTrainingRows)
		}
	}
	return nil
}

// saveRows writes the generated rows as a JSON array.
func saveRows(filename string, rows []Row) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}
	return os.WriteFile(filename, append(data, '\n'), 0o600)
}
