package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/glucoscore/internal/seed"
	"github.com/okian/glucoscore/pkg/logger"
)

// Default configuration constants.
const (
	defaultCount       = 200
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 10 * time.Second
	defaultNoise       = 2.0
	defaultReplays     = 10
	defaultProbes      = 20
	defaultTolerance   = 5.0
	defaultRunDeadline = 5 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:5000", "Base URL of the service")
		count     = flag.Int("count", defaultCount, "Number of observations to post")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		seedValue = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Generator seed")
		noise     = flag.Float64("noise", defaultNoise, "Max absolute score noise")
		replays   = flag.Int("replays", defaultReplays, "Posts to repeat with the same idempotency key")
		probes    = flag.Int("probes", defaultProbes, "Prediction probes after seeding")
		tolerance = flag.Float64("tolerance", defaultTolerance, "Max |predicted - truth| per probe (0 disables)")
		output    = flag.String("output", "", "Optional JSON file for the generated rows")
		verbose   = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunDeadline)
	defer cancel()

	config := &seed.Config{
		BaseURL:    *baseURL,
		Count:      *count,
		Workers:    *workers,
		Timeout:    *timeout,
		Seed:       *seedValue,
		Noise:      *noise,
		Replays:    *replays,
		Probes:     *probes,
		Tolerance:  *tolerance,
		Truth:      seed.DefaultTruth,
		OutputFile: *output,
	}

	if _, err := seed.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Seed run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
