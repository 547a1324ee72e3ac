package api

import (
	"context"
	"net/http"

	"github.com/okian/glucoscore/internal/domain/prediction"
)

// PredictDependencies defines what the predict handler needs.
type PredictDependencies interface {
	Predict(ctx context.Context, raw map[string]any) (prediction.Result, error)
}

// PredictHandler serves POST /api/predict.
type PredictHandler struct {
	deps PredictDependencies
}

// NewPredictHandler creates a new predict handler.
func NewPredictHandler(deps PredictDependencies) *PredictHandler {
	return &PredictHandler{deps: deps}
}

// HandlePredict handles POST /api/predict.
func (h *PredictHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	const op = "api.predict"
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}

	res, err := h.deps.Predict(r.Context(), readObject(w, r))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if res.Notes == nil {
		res.Notes = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}
