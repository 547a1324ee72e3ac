// Package model contains domain models passed between layers.
package model

import "time"

// Field names shared by the wire format, the validator and the store schema.
const (
	FieldAvgGlucose = "avg_glucose"
	FieldGlucoseSD  = "glucose_sd"
	FieldDifficulty = "difficulty"
	FieldScore      = "score"
)

// Observation is one historical record of exam conditions and the resulting score.
// Stored observations are never mutated.
type Observation struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	AvgGlucose float64   `json:"avg_glucose"`
	GlucoseSD  float64   `json:"glucose_sd"`
	Difficulty float64   `json:"difficulty"`
	Score      float64   `json:"score"`
}

// Conditions holds the predictor values for which a score is requested.
type Conditions struct {
	AvgGlucose float64 `json:"avg_glucose"`
	GlucoseSD  float64 `json:"glucose_sd"`
	Difficulty float64 `json:"difficulty"`
}

// Conditions returns the predictor part of the observation.
func (o Observation) Conditions() Conditions {
	return Conditions{
		AvgGlucose: o.AvgGlucose,
		GlucoseSD:  o.GlucoseSD,
		Difficulty: o.Difficulty,
	}
}

// ObservationFrom builds an unsaved observation from validated field values.
func ObservationFrom(values map[string]float64) Observation {
	return Observation{
		AvgGlucose: values[FieldAvgGlucose],
		GlucoseSD:  values[FieldGlucoseSD],
		Difficulty: values[FieldDifficulty],
		Score:      values[FieldScore],
	}
}

// ConditionsFrom builds predictor input from validated field values.
func ConditionsFrom(values map[string]float64) Conditions {
	return Conditions{
		AvgGlucose: values[FieldAvgGlucose],
		GlucoseSD:  values[FieldGlucoseSD],
		Difficulty: values[FieldDifficulty],
	}
}
