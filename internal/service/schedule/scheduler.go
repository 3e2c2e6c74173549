// Package schedule drives the background cadence of the engine: periodic
// drift reconciliation across all sources and per-source cron-triggered
// materialization.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"schemaflow/internal/domain"
	"schemaflow/internal/service/drift"
	"schemaflow/internal/service/materialize"
)

// Scheduler manages cron-based background execution.
type Scheduler struct {
	cron        *cron.Cron
	sources     domain.SourceRepository
	detector    *drift.Detector
	mat         *materialize.Service
	reconcileAt string
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID // source ID → cadence entry
}

// NewScheduler creates a scheduler. reconcileCron is the global drift
// reconciliation schedule; per-source materialization cadences come from
// each source's Cadence field.
func NewScheduler(
	sources domain.SourceRepository,
	detector *drift.Detector,
	mat *materialize.Service,
	reconcileCron string,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		sources:     sources,
		detector:    detector,
		mat:         mat,
		reconcileAt: reconcileCron,
		logger:      logger,
		entries:     make(map[string]cron.EntryID),
	}
}

// Start registers the reconciliation job, loads per-source cadences, and
// starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.reconcileAt, s.reconcile); err != nil {
		return err
	}
	if err := s.loadCadences(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "reconcile", s.reconcileAt)
	return nil
}

// Stop gracefully stops the cron loop.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

// Reload drops all per-source cadence entries and reloads them from the
// source registry. Called after sources are created or their cadence edited.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)

	return s.loadCadences(ctx)
}

func (s *Scheduler) reconcile() {
	ctx := context.Background()
	emitted, err := s.detector.CheckAll(ctx)
	if err != nil {
		s.logger.Warn("drift reconciliation failed", "error", err)
		return
	}
	if emitted > 0 {
		s.logger.Info("drift reconciliation emitted events", "count", emitted)
	}
}

func (s *Scheduler) loadCadences(ctx context.Context) error {
	page := domain.PageRequest{MaxResults: domain.MaxMaxResults}
	for {
		sources, _, err := s.sources.List(ctx, page)
		if err != nil {
			return err
		}

		for _, src := range sources {
			if src.Cadence == nil || src.Status != domain.SourceStatusActive {
				continue
			}
			cadence := *src.Cadence
			sourceID := src.ID
			sourceName := src.Name

			entryID, err := s.cron.AddFunc(cadence, func() {
				ctx := context.Background()
				_, runErr := s.mat.Run(ctx, sourceID, nil)
				if runErr != nil {
					var ve *domain.ValidationError
					if errors.As(runErr, &ve) {
						return // no active rules yet
					}
					s.logger.Warn("scheduled materialization failed",
						"source", sourceName,
						"error", runErr,
					)
				}
			})
			if err != nil {
				s.logger.Warn("invalid cadence",
					"source", sourceName,
					"cadence", cadence,
					"error", err,
				)
				continue
			}

			s.entries[src.ID] = entryID
			s.logger.Info("scheduled source", "source", sourceName, "cadence", cadence)
		}

		if len(sources) < page.MaxResults {
			return nil
		}
		page.PageToken = domain.EncodePageToken(page.Offset() + len(sources))
	}
}
