// Package seed drives a running service over HTTP with synthetic observations
// drawn from a known affine model, then checks that predictions recover it.
package seed

import (
	"time"

	"github.com/okian/glucoscore/internal/domain/prediction"
)

// Config holds configuration for a seeding run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Count      int           // Number of observations to post
	Workers    int           // Number of concurrent submitters
	Timeout    time.Duration // HTTP request timeout
	Seed       uint64        // Generator seed; the same seed yields the same rows
	Noise      float64       // Max absolute noise added to every score
	Replays    int           // Number of posts repeated with the same idempotency key
	Probes     int           // Number of prediction probes after seeding
	Tolerance  float64       // Max allowed |predicted - truth| per probe
	Truth      prediction.Coefficients
	OutputFile string // Optional JSON dump of the generated rows
}

// DefaultTruth is a plausible ground truth whose scores stay inside 0-100
// across the generated condition ranges.
var DefaultTruth = prediction.Coefficients{
	Intercept:  120,
	AvgGlucose: -0.3,
	GlucoseSD:  -0.4,
	Difficulty: -2,
}

// Stats holds run statistics.
type Stats struct {
	Generated  int
	Submitted  int
	Created    int
	Replayed   int
	Failed     int
	Probes     int
	MaxError   float64
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	LastResult prediction.Result
}
