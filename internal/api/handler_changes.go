package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"schemaflow/internal/domain"
)

// changeAPI is the wire form of a schema change event.
type changeAPI struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"source_id"`
	ChangeType string     `json:"change_type"`
	FieldPath  string     `json:"field_path"`
	OldValue   *string    `json:"old_value,omitempty"`
	NewValue   *string    `json:"new_value,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
	Review     string     `json:"review_status"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

func changeToAPI(e domain.SchemaChangeEvent) changeAPI {
	return changeAPI{
		ID:         e.ID,
		SourceID:   e.SourceID,
		ChangeType: string(e.ChangeType),
		FieldPath:  e.FieldPath,
		OldValue:   e.OldValue,
		NewValue:   e.NewValue,
		DetectedAt: e.DetectedAt,
		Review:     string(e.Review),
		ReviewedAt: e.ReviewedAt,
	}
}

func (h *Handler) listChanges(w http.ResponseWriter, r *http.Request) {
	var review *domain.ReviewStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.ReviewStatus(raw)
		review = &s
	}

	page := pageFromQuery(r)
	events, total, err := h.drift.ListEvents(r.Context(), chi.URLParam(r, "id"), review, page)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]changeAPI, len(events))
	for i, e := range events {
		items[i] = changeToAPI(e)
	}
	pagedJSON(w, items, total, page)
}

// checkDrift forces a drift reconciliation for one source instead of
// waiting for the next scheduled pass.
func (h *Handler) checkDrift(w http.ResponseWriter, r *http.Request) {
	emitted, err := h.drift.CheckSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"events_emitted": emitted})
}

type reviewRequest struct {
	Action string `json:"action"` // "acknowledge" or "dismiss"
}

func (h *Handler) reviewChange(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var review domain.ReviewStatus
	switch req.Action {
	case "acknowledge":
		review = domain.ReviewAcknowledged
	case "dismiss":
		review = domain.ReviewDismissed
	default:
		writeError(w, domain.ErrValidation("action must be %q or %q", "acknowledge", "dismiss"))
		return
	}

	event, err := h.drift.Review(r.Context(), chi.URLParam(r, "id"), review)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changeToAPI(*event))
}
