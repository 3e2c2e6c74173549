package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"schemaflow/internal/service/intake"
)

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var req intake.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.intake.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handler) requeueRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.intake.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"record_id": rec.ID,
		"status":    string(rec.Status),
	})
}

type materializeRequest struct {
	RecordIDs []string `json:"record_ids,omitempty"`
}

func (h *Handler) materializeSource(w http.ResponseWriter, r *http.Request) {
	var req materializeRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	summary, err := h.materialize.Run(r.Context(), chi.URLParam(r, "id"), req.RecordIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// runAPI is the wire form of one materialization run.
type runAPI struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	RuleSetHash string     `json:"rule_set_hash"`
	Status      string     `json:"status"`
	Resolved    int64      `json:"resolved"`
	Partial     int64      `json:"partial"`
	Failed      int64      `json:"failed"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	runs, total, err := h.materialize.ListRuns(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]runAPI, len(runs))
	for i, run := range runs {
		items[i] = runAPI{
			ID:          run.ID,
			SourceID:    run.SourceID,
			RuleSetHash: run.RuleSetHash,
			Status:      string(run.Status),
			Resolved:    run.Resolved,
			Partial:     run.Partial,
			Failed:      run.Failed,
			StartedAt:   run.StartedAt,
			FinishedAt:  run.FinishedAt,
		}
	}
	pagedJSON(w, items, total, page)
}
