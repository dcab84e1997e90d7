package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitechat/ingest/internal/pipeline"
	"github.com/sitechat/ingest/internal/progress"
)

// StoreSink persists PAGE_ERROR events so they can be inspected through the
// job errors API after a crawl finishes. Other stages pass through untouched.
type StoreSink struct {
	errors pipeline.PageErrorStore
	idGen  pipeline.IDGenerator
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided error store.
func NewStoreSink(errors pipeline.PageErrorStore, idGen pipeline.IDGenerator, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{errors: errors, idGen: idGen, logger: logger}
}

// Consume records each PAGE_ERROR in the batch. It respects ctx deadlines and
// returns the first store error verbatim so the hub can surface it.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.errors == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StagePageError {
			continue
		}
		id, err := s.idGen.NewID()
		if err != nil {
			return fmt.Errorf("generate page error id: %w", err)
		}
		rec := pipeline.PageError{
			ID:         id,
			JobID:      evt.JobUUID(),
			URL:        evt.URL,
			Stage:      evt.PipelineStage,
			Message:    evt.Note,
			OccurredAt: evt.TS,
		}
		if err := s.errors.RecordPageError(ctx, rec); err != nil {
			return fmt.Errorf("record page error: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
