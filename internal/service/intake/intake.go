// Package intake accepts payloads at the boundary: it validates the
// source, fingerprints the payload shape, appends the raw record, and runs
// discovery inline so rule authors always see a record's fields before the
// record can be materialized.
package intake

import (
	"context"
	"encoding/json"
	"log/slog"

	"schemaflow/internal/domain"
	"schemaflow/internal/fingerprint"
	"schemaflow/internal/service/discovery"
)

// Service handles record intake for registered, active sources.
type Service struct {
	sources   domain.SourceRepository
	records   domain.RawRecordRepository
	discovery *discovery.Service
	logger    *slog.Logger
}

// NewService creates an intake service.
func NewService(
	sources domain.SourceRepository,
	records domain.RawRecordRepository,
	disc *discovery.Service,
	logger *slog.Logger,
) *Service {
	return &Service{sources: sources, records: records, discovery: disc, logger: logger}
}

// Request is one payload offered for ingestion. Either SourceID or
// SourceName identifies the source.
type Request struct {
	SourceID    string          `json:"source_id,omitempty"`
	SourceName  string          `json:"source_name,omitempty"`
	ExternalRef string          `json:"external_ref,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Result reports the stored record and its shape fingerprint.
type Result struct {
	RecordID    string `json:"record_id"`
	Fingerprint string `json:"fingerprint"`
}

// Ingest validates and stores one payload. Unknown, paused, or errored
// sources and unparseable payloads are rejected synchronously and nothing
// is stored. Discovery runs inline; a discovery failure is logged but does
// not fail the already-stored record.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	src, err := s.resolveSource(ctx, req)
	if err != nil {
		return nil, err
	}
	if src.Status != domain.SourceStatusActive {
		return nil, domain.ErrValidation("source %q is %s, not accepting records", src.Name, src.Status)
	}

	if len(req.Payload) == 0 {
		return nil, domain.ErrValidation("payload is required")
	}
	payload, err := domain.ParsePayload(req.Payload)
	if err != nil {
		return nil, err
	}

	fp := fingerprint.Calculate(payload)

	seq, err := s.sources.NextIngestSeq(ctx, src.ID)
	if err != nil {
		return nil, err
	}

	rec, err := s.records.Create(ctx, &domain.RawRecord{
		SourceID:    src.ID,
		ExternalRef: req.ExternalRef,
		Payload:     req.Payload,
		Fingerprint: fp,
		IngestSeq:   seq,
	})
	if err != nil {
		return nil, err
	}

	// The record is durable either way; one still marked undiscovered is
	// re-observed by the next drift reconciliation pass. Only intake errors
	// are caller-visible.
	if err := s.discovery.ObserveRecord(ctx, src.ID, seq, payload); err != nil {
		s.logger.Warn("discovery failed for record",
			"record", rec.ID, "source", src.ID, "error", err)
	} else if err := s.records.MarkDiscovered(ctx, rec.ID); err != nil {
		s.logger.Warn("mark discovered failed",
			"record", rec.ID, "source", src.ID, "error", err)
	}

	s.logger.Debug("record ingested", "record", rec.ID, "source", src.ID, "fingerprint", fp)
	return &Result{RecordID: rec.ID, Fingerprint: fp}, nil
}

// Requeue returns an errored record to pending. This is the only way out of
// the error state; there are no automatic retries.
func (s *Service) Requeue(ctx context.Context, recordID string) (*domain.RawRecord, error) {
	if err := s.records.Requeue(ctx, recordID); err != nil {
		return nil, err
	}
	return s.records.GetByID(ctx, recordID)
}

func (s *Service) resolveSource(ctx context.Context, req Request) (*domain.Source, error) {
	switch {
	case req.SourceID != "":
		return s.sources.GetByID(ctx, req.SourceID)
	case req.SourceName != "":
		return s.sources.GetByName(ctx, req.SourceName)
	default:
		return nil, domain.ErrValidation("source_id or source_name is required")
	}
}
