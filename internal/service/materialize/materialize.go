// Package materialize applies a source's active transformation rules to its
// pending raw records and upserts the results into canonical tables.
package materialize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"schemaflow/internal/domain"
	"schemaflow/internal/service/rules"
)

// Service runs materialization passes. A per-source mutex keeps passes for
// the same source strictly sequential; different sources run concurrently.
type Service struct {
	sources domain.SourceRepository
	records domain.RawRecordRepository
	rules   domain.RuleRepository
	targets domain.TargetRepository
	runs    domain.RunRepository
	store   domain.CanonicalStore

	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	writers map[string]*sync.Mutex
}

// NewService creates a materializer. batchSize bounds how many pending
// records each fetch pulls.
func NewService(
	sources domain.SourceRepository,
	records domain.RawRecordRepository,
	rulesRepo domain.RuleRepository,
	targets domain.TargetRepository,
	runs domain.RunRepository,
	store domain.CanonicalStore,
	batchSize int,
	logger *slog.Logger,
) *Service {
	return &Service{
		sources:   sources,
		records:   records,
		rules:     rulesRepo,
		targets:   targets,
		runs:      runs,
		store:     store,
		batchSize: batchSize,
		logger:    logger,
		writers:   make(map[string]*sync.Mutex),
	}
}

// tableRules is the resolved plan for one canonical table: its natural key
// and the active rules feeding its columns.
type tableRules struct {
	table      string
	naturalKey string
	rules      []domain.TransformationRule
}

// Run materializes a source's pending records. When recordIDs is non-empty
// only those records are considered (the re-queue path); otherwise all
// pending records are drained in batches. Records claimed by a concurrent
// pass are counted as skipped, not failed.
func (s *Service) Run(ctx context.Context, sourceID string, recordIDs []string) (*domain.MaterializationSummary, error) {
	if _, err := s.sources.GetByID(ctx, sourceID); err != nil {
		return nil, err
	}

	lock := s.writerFor(sourceID)
	lock.Lock()
	defer lock.Unlock()

	plan, hash, err := s.buildPlan(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	run, err := s.runs.Create(ctx, &domain.MaterializationRun{
		SourceID:    sourceID,
		RuleSetHash: hash,
		Status:      domain.RunRunning,
	})
	if err != nil {
		return nil, err
	}

	summary := &domain.MaterializationSummary{RunID: run.ID}
	err = s.drain(ctx, sourceID, recordIDs, plan, run.ID, summary)

	status := domain.RunCompleted
	if err != nil {
		status = domain.RunCanceled
	}
	finErr := s.runs.Finish(ctx, run.ID, status,
		int64(summary.Resolved), int64(summary.PartiallyResolved), int64(summary.Failed))
	if err != nil {
		return nil, err
	}
	if finErr != nil {
		return nil, finErr
	}

	s.logger.Info("materialization finished", "run", run.ID, "source", sourceID,
		"resolved", summary.Resolved, "partial", summary.PartiallyResolved,
		"failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

// ListRuns returns a source's materialization run log, newest first.
func (s *Service) ListRuns(ctx context.Context, sourceID string, page domain.PageRequest) ([]domain.MaterializationRun, int64, error) {
	if _, err := s.sources.GetByID(ctx, sourceID); err != nil {
		return nil, 0, err
	}
	return s.runs.ListBySource(ctx, sourceID, page)
}

// RunAll materializes every source that has pending records, in parallel.
func (s *Service) RunAll(ctx context.Context) (map[string]*domain.MaterializationSummary, error) {
	ids, err := s.records.SourcesWithPending(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[string]*domain.MaterializationSummary, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			summary, err := s.Run(gctx, id, nil)
			if err != nil {
				// A source without active rules is not a pipeline failure.
				var ve *domain.ValidationError
				if errors.As(err, &ve) {
					s.logger.Debug("source skipped", "source", id, "reason", err)
					return nil
				}
				return err
			}
			mu.Lock()
			out[id] = summary
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) writerFor(sourceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.writers[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		s.writers[sourceID] = lock
	}
	return lock
}

// buildPlan snapshots the active rule set, grouped by canonical table, and
// hashes it. The snapshot is fixed for the whole run: a rule revised mid-run
// does not change what this run writes.
func (s *Service) buildPlan(ctx context.Context, sourceID string) ([]tableRules, string, error) {
	active, err := s.rules.ListActiveBySource(ctx, sourceID)
	if err != nil {
		return nil, "", err
	}
	if len(active) == 0 {
		return nil, "", domain.ErrValidation("source %s has no active rules", sourceID)
	}

	byTable := make(map[string][]domain.TransformationRule)
	for _, r := range active {
		byTable[r.TargetTable] = append(byTable[r.TargetTable], r)
	}

	plan := make([]tableRules, 0, len(byTable))
	for table, trs := range byTable {
		target, err := s.targets.GetByTable(ctx, table)
		if err != nil {
			return nil, "", err
		}
		plan = append(plan, tableRules{table: table, naturalKey: target.NaturalKey, rules: trs})
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].table < plan[j].table })

	return plan, ruleSetHash(active), nil
}

// ruleSetHash fingerprints the active rule versions so a run's output is
// traceable to the exact rules that produced it.
func ruleSetHash(active []domain.TransformationRule) string {
	keys := make([]string, len(active))
	for i, r := range active {
		keys[i] = fmt.Sprintf("%s:%d", r.ID, r.Version)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Service) drain(ctx context.Context, sourceID string, recordIDs []string, plan []tableRules, runID string, summary *domain.MaterializationSummary) error {
	if len(recordIDs) > 0 {
		batch, err := s.records.ListPendingByIDs(ctx, sourceID, recordIDs)
		if err != nil {
			return err
		}
		return s.processBatch(ctx, batch, plan, runID, summary)
	}

	for {
		batch, err := s.records.ListPending(ctx, sourceID, s.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := s.processBatch(ctx, batch, plan, runID, summary); err != nil {
			return err
		}
		if len(batch) < s.batchSize {
			return nil
		}
	}
}

func (s *Service) processBatch(ctx context.Context, batch []domain.RawRecord, plan []tableRules, runID string, summary *domain.MaterializationSummary) error {
	for i := range batch {
		rec := &batch[i]

		if err := ctx.Err(); err != nil {
			return err
		}

		claimed, err := s.records.Claim(ctx, rec.ID)
		if err != nil {
			return err
		}
		if !claimed {
			summary.Skipped++
			continue
		}

		if err := s.processRecord(ctx, rec, plan, runID, summary); err != nil {
			// Put the claim back so the record is not stranded in_progress.
			if relErr := s.records.Release(ctx, rec.ID); relErr != nil {
				s.logger.Error("release after failure", "record", rec.ID, "error", relErr)
			}
			return err
		}
	}
	return nil
}

// processRecord resolves every planned rule against one record and upserts
// per canonical table. Classification is per record: all rules resolved and
// valid is resolved, at least one column written is partially_resolved, and
// nothing written at all is an error.
func (s *Service) processRecord(ctx context.Context, rec *domain.RawRecord, plan []tableRules, runID string, summary *domain.MaterializationSummary) error {
	payload, err := domain.ParsePayload(rec.Payload)
	if err != nil {
		summary.Failed++
		return s.records.MarkError(ctx, rec.ID, err.Error())
	}

	var (
		written   int
		missed    int
		lastTable string
	)
	for _, tr := range plan {
		cols := make(map[string]string, len(tr.rules))
		for _, rule := range tr.rules {
			value, ok, verr := rules.Resolve(rule, payload)
			if verr != nil {
				// Only this column stays unset; the record still loads.
				summary.Failures = append(summary.Failures, domain.ValidationFailure{
					RecordID: rec.ID,
					Column:   rule.TargetColumn,
					Reason:   verr.Error(),
				})
				missed++
				continue
			}
			if !ok {
				missed++
				continue
			}
			cols[rule.TargetColumn] = value
		}

		keyValue, ok := cols[tr.naturalKey]
		if !ok {
			// Without the natural key nothing in this table is addressable.
			missed += len(cols)
			continue
		}

		if err := s.store.Upsert(ctx, tr.table, tr.naturalKey, keyValue, cols); err != nil {
			return err
		}
		written += len(cols)
		lastTable = tr.table
	}

	if written == 0 {
		summary.Failed++
		return s.records.MarkError(ctx, rec.ID, "no columns resolved")
	}

	if missed == 0 {
		summary.Resolved++
	} else {
		summary.PartiallyResolved++
	}
	return s.records.MarkProcessed(ctx, rec.ID, lastTable, runID)
}
