package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"schemaflow/internal/declarative"
	"schemaflow/internal/domain"
)

// targetAPI is the wire form of a canonical target declaration.
type targetAPI struct {
	ID         string    `json:"id"`
	Table      string    `json:"table"`
	NaturalKey string    `json:"natural_key"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *Handler) createTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Table      string `json:"table"`
		NaturalKey string `json:"natural_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	t, err := h.registry.CreateTarget(r.Context(), &domain.CanonicalTarget{
		Table:      req.Table,
		NaturalKey: req.NaturalKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, targetAPI{
		ID: t.ID, Table: t.Table, NaturalKey: t.NaturalKey, CreatedAt: t.CreatedAt,
	})
}

func (h *Handler) listTargets(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	targets, total, err := h.registry.ListTargets(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]targetAPI, len(targets))
	for i, t := range targets {
		items[i] = targetAPI{ID: t.ID, Table: t.Table, NaturalKey: t.NaturalKey, CreatedAt: t.CreatedAt}
	}
	pagedJSON(w, items, total, page)
}

// ruleAPI is the wire form of one rule version.
type ruleAPI struct {
	ID           string            `json:"id"`
	SourceID     string            `json:"source_id"`
	Candidates   []string          `json:"candidates"`
	TargetTable  string            `json:"target_table"`
	TargetColumn string            `json:"target_column"`
	Transform    string            `json:"transform,omitempty"`
	Validation   domain.Validation `json:"validation,omitempty"`
	Constant     *string           `json:"constant,omitempty"`
	Status       string            `json:"status"`
	Version      int               `json:"version"`
	SupersedesID *string           `json:"supersedes_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func ruleToAPI(r domain.TransformationRule) ruleAPI {
	return ruleAPI{
		ID:           r.ID,
		SourceID:     r.SourceID,
		Candidates:   r.Candidates,
		TargetTable:  r.TargetTable,
		TargetColumn: r.TargetColumn,
		Transform:    r.Transform,
		Validation:   r.Validation,
		Constant:     r.Constant,
		Status:       string(r.Status),
		Version:      r.Version,
		SupersedesID: r.SupersedesID,
		CreatedAt:    r.CreatedAt,
	}
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var spec domain.RuleSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, err)
		return
	}

	rule, err := h.rules.Create(r.Context(), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ruleToAPI(*rule))
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleToAPI(*rule))
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		writeError(w, domain.ErrValidation("source_id query parameter is required"))
		return
	}

	page := pageFromQuery(r)
	list, total, err := h.rules.List(r.Context(), sourceID, page)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]ruleAPI, len(list))
	for i, rule := range list {
		items[i] = ruleToAPI(rule)
	}
	pagedJSON(w, items, total, page)
}

func (h *Handler) reviseRule(w http.ResponseWriter, r *http.Request) {
	var spec domain.RuleSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, err)
		return
	}

	rule, err := h.rules.Revise(r.Context(), chi.URLParam(r, "id"), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleToAPI(*rule))
}

func (h *Handler) disableRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Disable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleToAPI(*rule))
}

type dryRunRequest struct {
	Rule       domain.RuleSpec `json:"rule"`
	SampleSize int             `json:"sample_size,omitempty"`
}

func (h *Handler) dryRunRule(w http.ResponseWriter, r *http.Request) {
	var req dryRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	report, err := h.rules.DryRun(r.Context(), req.Rule, req.SampleSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// applyManifest accepts a YAML manifest body and reconciles it.
func (h *Handler) applyManifest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, domain.ErrValidation("read body: %v", err))
		return
	}

	manifest, err := declarative.Load(body)
	if err != nil {
		writeError(w, domain.ErrValidation("%v", err))
		return
	}

	result, err := h.applier.Apply(r.Context(), manifest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
