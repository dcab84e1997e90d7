package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sitechat/ingest/internal/pipeline"
)

// PageErrorStore keeps the per-page error log in memory.
type PageErrorStore struct {
	mu     sync.RWMutex
	errors map[uuid.UUID][]pipeline.PageError
}

// NewPageErrorStore creates a PageErrorStore.
func NewPageErrorStore() *PageErrorStore {
	return &PageErrorStore{errors: make(map[uuid.UUID][]pipeline.PageError)}
}

// RecordPageError appends one row.
func (s *PageErrorStore) RecordPageError(_ context.Context, pageError pipeline.PageError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[pageError.JobID] = append(s.errors[pageError.JobID], pageError)
	return nil
}

// ListPageErrors returns the log slice for one job, oldest first.
func (s *PageErrorStore) ListPageErrors(_ context.Context, jobID uuid.UUID, limit, offset int) ([]pipeline.PageError, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.errors[jobID]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return append([]pipeline.PageError(nil), all[offset:end]...), nil
}
