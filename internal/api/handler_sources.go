package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"schemaflow/internal/domain"
)

// sourceAPI is the wire form of a registered source.
type sourceAPI struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Origin    string    `json:"origin,omitempty"`
	Cadence   *string   `json:"cadence,omitempty"`
	Status    string    `json:"status"`
	IngestSeq int64     `json:"ingest_seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func sourceToAPI(s domain.Source) sourceAPI {
	return sourceAPI{
		ID:        s.ID,
		Name:      s.Name,
		Type:      s.Type,
		Origin:    s.Origin,
		Cadence:   s.Cadence,
		Status:    string(s.Status),
		IngestSeq: s.IngestSeq,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type createSourceRequest struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Origin  string  `json:"origin,omitempty"`
	Cadence *string `json:"cadence,omitempty"`
}

func (h *Handler) createSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	src, err := h.registry.CreateSource(r.Context(), &domain.Source{
		Name:    req.Name,
		Type:    req.Type,
		Origin:  req.Origin,
		Cadence: req.Cadence,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sourceToAPI(*src))
}

func (h *Handler) getSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.registry.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceToAPI(*src))
}

func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	sources, total, err := h.registry.ListSources(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]sourceAPI, len(sources))
	for i, s := range sources {
		items[i] = sourceToAPI(s)
	}
	pagedJSON(w, items, total, page)
}

func (h *Handler) setSourceStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	src, err := h.registry.SetSourceStatus(r.Context(), chi.URLParam(r, "id"), domain.SourceStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceToAPI(*src))
}

// fieldAPI is the wire form of a discovered field.
type fieldAPI struct {
	ID           string  `json:"id"`
	FieldPath    string  `json:"field_path"`
	InferredType string  `json:"inferred_type"`
	ExampleValue *string `json:"example_value,omitempty"`
	Occurrences  int64   `json:"occurrence_count"`
	Mapping      string  `json:"mapping_status"`
	TargetTable  *string `json:"target_table,omitempty"`
	TargetColumn *string `json:"target_column,omitempty"`
}

func (h *Handler) listFields(w http.ResponseWriter, r *http.Request) {
	var mapping *domain.MappingStatus
	if raw := r.URL.Query().Get("mapping_status"); raw != "" {
		m := domain.MappingStatus(raw)
		mapping = &m
	}

	page := pageFromQuery(r)
	fields, total, err := h.registry.ListFields(r.Context(), chi.URLParam(r, "id"), mapping, page)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]fieldAPI, len(fields))
	for i, f := range fields {
		items[i] = fieldAPI{
			ID:           f.ID,
			FieldPath:    f.FieldPath,
			InferredType: string(f.InferredType),
			ExampleValue: f.ExampleValue,
			Occurrences:  f.Occurrences,
			Mapping:      string(f.Mapping),
			TargetTable:  f.TargetTable,
			TargetColumn: f.TargetColumn,
		}
	}
	pagedJSON(w, items, total, page)
}

type shapeAPI struct {
	Fingerprint string    `json:"fingerprint"`
	Records     int64     `json:"record_count"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func (h *Handler) listShapes(w http.ResponseWriter, r *http.Request) {
	counts, err := h.registry.ShapeCounts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]shapeAPI, len(counts))
	for i, c := range counts {
		items[i] = shapeAPI{Fingerprint: c.Fingerprint, Records: c.Records, LastSeenAt: c.LastSeenAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"shapes": items})
}
