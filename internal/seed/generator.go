package seed

import (
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/okian/glucoscore/internal/domain/model"
	"github.com/okian/glucoscore/internal/domain/prediction"
)

// Row is one observation to post together with its idempotency key.
type Row struct {
	Key         string            `json:"key"`
	Observation model.Observation `json:"observation"`
}

// Generator draws observations from an affine truth plus bounded uniform noise.
type Generator struct {
	rng   *rand.Rand
	truth prediction.Coefficients
	noise float64
}

// NewGenerator creates a deterministic generator.
func NewGenerator(seed uint64, truth prediction.Coefficients, noise float64) *Generator {
	return &Generator{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		truth: truth,
		noise: math.Abs(noise),
	}
}

// Conditions draws one set of exam conditions.
func (g *Generator) Conditions() model.Conditions {
	return model.Conditions{
		AvgGlucose: roundTo(avgGlucoseMin+g.rng.Float64()*avgGlucoseRange, 1),
		GlucoseSD:  roundTo(glucoseSDMin+g.rng.Float64()*glucoseSDRange, 1),
		Difficulty: float64(difficultyMin + g.rng.IntN(difficultySteps)),
	}
}

// Observation draws conditions and scores them against the truth.
func (g *Generator) Observation() model.Observation {
	c := g.Conditions()
	score := g.truth.Apply(c)
	if g.noise > 0 {
		score += (g.rng.Float64()*2 - 1) * g.noise
	}
	return model.Observation{
		AvgGlucose: c.AvgGlucose,
		GlucoseSD:  c.GlucoseSD,
		Difficulty: c.Difficulty,
		Score:      clamp(roundTo(score, 2), scoreMin, scoreMax),
	}
}

// Rows draws n rows with fresh idempotency keys.
func (g *Generator) Rows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{Key: uuid.NewString(), Observation: g.Observation()}
	}
	return rows
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
