// Package validate checks raw request fields against a table of numeric ranges.
//
// Observation writes and prediction requests share one Schema type; they only
// differ in which fields their table lists.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/glucoscore/internal/domain/model"
)

// Bound is one side of a numeric range.
type Bound struct {
	Value     float64
	Exclusive bool
}

// Field describes one numeric field and its accepted range.
// A nil bound leaves that side open.
type Field struct {
	Name  string
	Label string
	Min   *Bound
	Max   *Bound
}

// Schema is an ordered field table.
type Schema struct {
	name   string
	fields []Field
}

// Errors maps field name to a human-readable message.
type Errors map[string]string

// Error implements error with fields in a stable order.
func (e Errors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Inclusive returns an inclusive bound.
func Inclusive(v float64) *Bound { return &Bound{Value: v} }

// Exclusive returns an exclusive bound.
func Exclusive(v float64) *Bound { return &Bound{Value: v, Exclusive: true} }

// NewSchema builds a schema from a field table.
func NewSchema(name string, fields ...Field) *Schema {
	return &Schema{name: name, fields: append([]Field(nil), fields...)}
}

// Name returns the schema name used in metrics and logs.
func (s *Schema) Name() string { return s.name }

// Fields returns a copy of the field table.
func (s *Schema) Fields() []Field { return append([]Field(nil), s.fields...) }

// Validate parses every field of the table out of raw and checks its range.
// Parsed values are returned only for fields that passed. Errors is nil when
// every field passed.
func (s *Schema) Validate(raw map[string]any) (map[string]float64, Errors) {
	parsed := make(map[string]float64, len(s.fields))
	var errs Errors

	for _, f := range s.fields {
		v, ok := parseFloat(raw[f.Name])
		if !ok {
			errs = errs.add(f.Name, f.Label+" must be a number.")
			continue
		}
		if msg, ok := f.check(v); !ok {
			errs = errs.add(f.Name, msg)
			continue
		}
		parsed[f.Name] = v
	}
	return parsed, errs
}

func (e Errors) add(field, msg string) Errors {
	if e == nil {
		e = make(Errors)
	}
	e[field] = msg
	return e
}

func (f Field) check(v float64) (string, bool) {
	lowOK := f.Min == nil || v > f.Min.Value || (!f.Min.Exclusive && v == f.Min.Value)
	highOK := f.Max == nil || v < f.Max.Value || (!f.Max.Exclusive && v == f.Max.Value)
	if lowOK && highOK {
		return "", true
	}
	return f.rangeMessage(), false
}

func (f Field) rangeMessage() string {
	switch {
	case f.Min != nil && f.Max != nil && !f.Min.Exclusive && !f.Max.Exclusive:
		return fmt.Sprintf("%s must be between %s and %s.", f.Label, num(f.Min.Value), num(f.Max.Value))
	case f.Min != nil && f.Max != nil:
		return fmt.Sprintf("%s must be %s %s and %s %s.", f.Label, f.Min.op(">"), num(f.Min.Value), f.Max.op("<"), num(f.Max.Value))
	case f.Min != nil:
		return fmt.Sprintf("%s must be %s %s.", f.Label, f.Min.op(">"), num(f.Min.Value))
	default:
		return fmt.Sprintf("%s must be %s %s.", f.Label, f.Max.op("<"), num(f.Max.Value))
	}
}

func (b *Bound) op(strict string) string {
	if b.Exclusive {
		return strict
	}
	return strict + "="
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parseFloat accepts JSON numbers and numeric strings. Booleans, null and
// non-finite values are rejected.
func parseFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var (
	avgGlucose = Field{Name: model.FieldAvgGlucose, Label: "Average glucose", Min: Exclusive(0)}
	glucoseSD  = Field{Name: model.FieldGlucoseSD, Label: "Glucose SD", Min: Inclusive(0)}
	difficulty = Field{Name: model.FieldDifficulty, Label: "Difficulty", Min: Inclusive(1), Max: Inclusive(10)}
	score      = Field{Name: model.FieldScore, Label: "Score", Min: Inclusive(0), Max: Inclusive(100)}
)

// Observation validates a full observation write.
var Observation = NewSchema("observation", avgGlucose, glucoseSD, difficulty, score)

// Conditions validates predictor input.
var Conditions = NewSchema("conditions", avgGlucose, glucoseSD, difficulty)
