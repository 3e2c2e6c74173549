// Package api exposes the engine over HTTP: source registry, record intake,
// discovered schema, drift review, rule authoring, and materialization
// triggers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"schemaflow/internal/config"
	"schemaflow/internal/declarative"
	"schemaflow/internal/domain"
	"schemaflow/internal/middleware"
	"schemaflow/internal/service/drift"
	"schemaflow/internal/service/intake"
	"schemaflow/internal/service/materialize"
	"schemaflow/internal/service/registry"
	"schemaflow/internal/service/rules"
)

// Handler carries the services the HTTP surface calls into.
type Handler struct {
	registry    *registry.Service
	intake      *intake.Service
	drift       *drift.Detector
	rules       *rules.Service
	materialize *materialize.Service
	applier     *declarative.Applier
	logger      *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	reg *registry.Service,
	intakeSvc *intake.Service,
	detector *drift.Detector,
	ruleSvc *rules.Service,
	mat *materialize.Service,
	applier *declarative.Applier,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		registry:    reg,
		intake:      intakeSvc,
		drift:       detector,
		rules:       ruleSvc,
		materialize: mat,
		applier:     applier,
		logger:      logger,
	}
}

// Routes builds the router with the standard middleware stack.
func (h *Handler) Routes(cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))

	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sources", h.createSource)
		r.Get("/sources", h.listSources)
		r.Get("/sources/{id}", h.getSource)
		r.Post("/sources/{id}/status", h.setSourceStatus)
		r.Get("/sources/{id}/fields", h.listFields)
		r.Get("/sources/{id}/shapes", h.listShapes)
		r.Get("/sources/{id}/changes", h.listChanges)
		r.Post("/sources/{id}/check", h.checkDrift)
		r.Post("/sources/{id}/materialize", h.materializeSource)
		r.Get("/sources/{id}/runs", h.listRuns)

		r.Post("/ingest", h.ingest)
		r.Post("/records/{id}/requeue", h.requeueRecord)

		r.Post("/changes/{id}/review", h.reviewChange)

		r.Post("/targets", h.createTarget)
		r.Get("/targets", h.listTargets)

		r.Post("/rules", h.createRule)
		r.Get("/rules", h.listRules)
		r.Get("/rules/{id}", h.getRule)
		r.Put("/rules/{id}", h.reviseRule)
		r.Post("/rules/{id}/disable", h.disableRule)
		r.Post("/rules/dry-run", h.dryRunRule)

		r.Post("/apply", h.applyManifest)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

// pageFromQuery extracts max_results and page_token query params.
func pageFromQuery(r *http.Request) domain.PageRequest {
	p := domain.PageRequest{PageToken: r.URL.Query().Get("page_token")}
	if raw := r.URL.Query().Get("max_results"); raw != "" {
		if n, err := json.Number(raw).Int64(); err == nil {
			p.MaxResults = int(n)
		}
	}
	return p
}

// listResponse is the common paged-list envelope.
type listResponse[T any] struct {
	Items         []T    `json:"items"`
	Total         int64  `json:"total"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func pagedJSON[T any](w http.ResponseWriter, items []T, total int64, page domain.PageRequest) {
	writeJSON(w, http.StatusOK, listResponse[T]{
		Items:         items,
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	})
}
