// Package prediction estimates an exam score from historical observations.
//
// The strategy depends on how much history exists: a placeholder with no
// rows, the mean score below MinRegressionRows, and an ordinary least squares
// fit over every row otherwise.
package prediction

import (
	"math"

	"github.com/okian/glucoscore/internal/domain/model"
	"gonum.org/v1/gonum/mat"
)

// MinRegressionRows is the smallest history that activates the linear model.
const MinRegressionRows = 3

// Strategy tags reported in Model.Type.
const (
	StrategyNone       = "none"
	StrategyMean       = "mean"
	StrategyRegression = "multivariate_linear_regression"
)

// Advisory notes.
const (
	NoteNoData       = "No data yet. Returning 0 as a placeholder prediction until entries exist."
	NoteInsufficient = "Not enough data for regression (need at least 3 rows). Returning mean score of existing entries."
	NoteSolverFailed = "Least squares factorization failed. Returning mean score of existing entries."
)

const (
	rankTolerance = 1e-10
	scoreDecimals = 2
	r2Decimals    = 4
	columns       = 4
)

// Coefficients holds the intercept and one weight per predictor.
type Coefficients struct {
	Intercept  float64 `json:"intercept"`
	AvgGlucose float64 `json:"avg_glucose"`
	GlucoseSD  float64 `json:"glucose_sd"`
	Difficulty float64 `json:"difficulty"`
}

// Apply evaluates the linear model at c.
func (k Coefficients) Apply(c model.Conditions) float64 {
	return k.Intercept + k.AvgGlucose*c.AvgGlucose + k.GlucoseSD*c.GlucoseSD + k.Difficulty*c.Difficulty
}

// Model describes how a prediction was produced.
type Model struct {
	Type          string       `json:"type"`
	Coefficients  Coefficients `json:"coefficients"`
	NTrainingRows int          `json:"n_training_rows"`
	R2            *float64     `json:"r2"`
}

// Result is the outcome of one prediction.
type Result struct {
	PredictedScore float64  `json:"predicted_score"`
	Model          Model    `json:"model"`
	Notes          []string `json:"notes"`
}

// Predict returns a score estimate for in given history. It is a pure
// function: the same inputs always produce the same result.
func Predict(in model.Conditions, history []model.Observation) Result {
	n := len(history)
	res := Result{
		Model: Model{Type: StrategyNone, NTrainingRows: n},
		Notes: []string{},
	}

	switch {
	case n == 0:
		res.Notes = append(res.Notes, NoteNoData)
		return res
	case n < MinRegressionRows:
		res.Model.Type = StrategyMean
		res.PredictedScore = round(meanScore(history), scoreDecimals)
		res.Notes = append(res.Notes, NoteInsufficient)
		return res
	}

	fit, ok := leastSquares(history)
	if !ok {
		res.Model.Type = StrategyMean
		res.PredictedScore = round(meanScore(history), scoreDecimals)
		res.Notes = append(res.Notes, NoteSolverFailed)
		return res
	}

	res.Model.Type = StrategyRegression
	res.Model.Coefficients = fit
	res.Model.R2 = rSquared(fit, history)
	res.PredictedScore = round(fit.Apply(in), scoreDecimals)
	return res
}

// Predictor is the interface form of Predict so callers can substitute it.
type Predictor interface {
	Predict(in model.Conditions, history []model.Observation) Result
}

// OLS is the default Predictor.
type OLS struct{}

// Predict implements Predictor.
func (OLS) Predict(in model.Conditions, history []model.Observation) Result {
	return Predict(in, history)
}

// leastSquares solves min |X·b − y| with the minimum-norm b, where X has a
// leading column of ones. Singular values at or below rankTolerance relative
// to the largest one are treated as zero, so rank-deficient designs still
// yield a finite solution.
func leastSquares(history []model.Observation) (Coefficients, bool) {
	rows := len(history)
	x := mat.NewDense(rows, columns, nil)
	y := mat.NewDense(rows, 1, nil)
	for i, o := range history {
		x.SetRow(i, []float64{1, o.AvgGlucose, o.GlucoseSD, o.Difficulty})
		y.Set(i, 0, o.Score)
	}

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return Coefficients{}, false
	}

	rank := svd.Rank(rankTolerance)
	if rank == 0 {
		// All-zero design; the minimum-norm solution is zero.
		return Coefficients{}, true
	}

	var b mat.Dense
	svd.SolveTo(&b, y, rank)

	fit := Coefficients{
		Intercept:  b.At(0, 0),
		AvgGlucose: b.At(1, 0),
		GlucoseSD:  b.At(2, 0),
		Difficulty: b.At(3, 0),
	}
	for _, v := range []float64{fit.Intercept, fit.AvgGlucose, fit.GlucoseSD, fit.Difficulty} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Coefficients{}, false
		}
	}
	return fit, true
}

// rSquared returns 1 − RSS/TSS over the training rows, or nil when every
// training score is identical.
func rSquared(fit Coefficients, history []model.Observation) *float64 {
	mean := meanScore(history)
	var rss, tss float64
	for _, o := range history {
		r := o.Score - fit.Apply(o.Conditions())
		rss += r * r
		d := o.Score - mean
		tss += d * d
	}
	if tss == 0 {
		return nil
	}
	r2 := round(1-rss/tss, r2Decimals)
	return &r2
}

func meanScore(history []model.Observation) float64 {
	var sum float64
	for _, o := range history {
		sum += o.Score
	}
	return sum / float64(len(history))
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
