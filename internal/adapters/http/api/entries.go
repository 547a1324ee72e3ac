package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/glucoscore/internal/domain/model"
)

// EntryDependencies defines what the entries handler needs.
type EntryDependencies interface {
	Record(ctx context.Context, raw map[string]any, idempotencyKey string) (model.Observation, bool, error)
	Observations(ctx context.Context) ([]model.Observation, error)
}

// EntriesHandler serves /api/entries.
type EntriesHandler struct {
	deps EntryDependencies
}

// NewEntriesHandler creates a new entries handler.
func NewEntriesHandler(deps EntryDependencies) *EntriesHandler {
	return &EntriesHandler{deps: deps}
}

type entriesResponse struct {
	Entries []model.Observation `json:"entries"`
}

// HandleEntries dispatches GET and POST /api/entries.
func (h *EntriesHandler) HandleEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.HandleListEntries(w, r)
	case http.MethodPost:
		h.HandlePostEntry(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	}
}

// HandleListEntries handles GET /api/entries.
func (h *EntriesHandler) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_entries"
	entries, err := h.deps.Observations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrStore, err))
		return
	}
	if entries == nil {
		entries = []model.Observation{}
	}
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

// HandlePostEntry handles POST /api/entries. A replayed Idempotency-Key
// answers 200 with the original observation instead of 201.
func (h *EntriesHandler) HandlePostEntry(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_entry"
	raw := readObject(w, r)
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))

	o, duplicate, err := h.deps.Record(r.Context(), raw, key)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if duplicate {
		writeJSON(w, http.StatusOK, o)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}
