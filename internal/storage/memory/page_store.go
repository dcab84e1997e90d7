package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sitechat/ingest/internal/pipeline"
)

type pageKey struct {
	domainID string
	url      string
}

// PageStore implements pipeline.PageStore with mutex-guarded maps. Bulk
// operations return pipeline.ErrBulkUnsupported, which doubles as a fixture
// for the callers' per-row fallback path.
type PageStore struct {
	mu         sync.RWMutex
	idGen      pipeline.IDGenerator
	pages      map[pageKey]pipeline.Page
	embeddings map[uuid.UUID][]pipeline.Embedding
}

// NewPageStore constructs a PageStore.
func NewPageStore(idGen pipeline.IDGenerator) *PageStore {
	return &PageStore{
		idGen:      idGen,
		pages:      make(map[pageKey]pipeline.Page),
		embeddings: make(map[uuid.UUID][]pipeline.Embedding),
	}
}

// UpsertPage inserts or updates by (domain_id, url), returning the stable id.
func (s *PageStore) UpsertPage(_ context.Context, page pipeline.Page) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pageKey{domainID: page.DomainID, url: page.URL}
	if existing, ok := s.pages[key]; ok {
		page.ID = existing.ID
	} else if page.ID == uuid.Nil {
		id, err := s.idGen.NewID()
		if err != nil {
			return uuid.Nil, fmt.Errorf("new page id: %w", err)
		}
		page.ID = id
	}
	s.pages[key] = page
	return page.ID, nil
}

// GetPageByURL returns the stored row or pipeline.ErrNotFound.
func (s *PageStore) GetPageByURL(_ context.Context, domainID, url string) (pipeline.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[pageKey{domainID: domainID, url: url}]
	if !ok {
		return pipeline.Page{}, pipeline.ErrNotFound
	}
	return page, nil
}

// ReplaceEmbeddings swaps the page's embedding set under the store lock,
// mirroring the transactional semantics of the Postgres implementation.
func (s *PageStore) ReplaceEmbeddings(_ context.Context, pageID uuid.UUID, embeddings []pipeline.Embedding) error {
	for i, e := range embeddings {
		if e.PageID != pageID {
			return fmt.Errorf("%w: embedding %d belongs to page %s, replacing %s",
				pipeline.ErrIntegrity, i, e.PageID, pageID)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pageExistsLocked(pageID) {
		return fmt.Errorf("replace embeddings: page %s: %w", pageID, pipeline.ErrNotFound)
	}
	s.embeddings[pageID] = append([]pipeline.Embedding(nil), embeddings...)
	return nil
}

// BulkUpsertPages is unsupported; callers fall back to UpsertPage.
func (s *PageStore) BulkUpsertPages(context.Context, []pipeline.Page) ([]uuid.UUID, error) {
	return nil, pipeline.ErrBulkUnsupported
}

// BulkInsertEmbeddings is unsupported; callers fall back to ReplaceEmbeddings.
func (s *PageStore) BulkInsertEmbeddings(context.Context, []pipeline.Embedding) (int64, error) {
	return 0, pipeline.ErrBulkUnsupported
}

// MarkPagesDeleted flips active pages not seen by jobID to deleted and drops
// their embeddings.
func (s *PageStore) MarkPagesDeleted(_ context.Context, domainID string, jobID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for key, page := range s.pages {
		if key.domainID != domainID || page.Status != pipeline.PageStatusActive {
			continue
		}
		if page.LastSeenInJobID != nil && *page.LastSeenInJobID == jobID {
			continue
		}
		page.Status = pipeline.PageStatusDeleted
		s.pages[key] = page
		delete(s.embeddings, page.ID)
		count++
	}
	return count, nil
}

// MarkPageFailed records a failed pass, creating a bare row when the URL was
// never stored. Content, hash, and embeddings stay untouched.
func (s *PageStore) MarkPageFailed(_ context.Context, domainID, url string, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pageKey{domainID: domainID, url: url}
	page, ok := s.pages[key]
	if !ok {
		id, err := s.idGen.NewID()
		if err != nil {
			return fmt.Errorf("new page id: %w", err)
		}
		page = pipeline.Page{ID: id, DomainID: domainID, URL: url}
	}
	page.Status = pipeline.PageStatusFailed
	page.LastSeenInJobID = &jobID
	s.pages[key] = page
	return nil
}

// EmbeddingsForPage returns a copy of the page's embedding set, for tests.
func (s *PageStore) EmbeddingsForPage(pageID uuid.UUID) []pipeline.Embedding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]pipeline.Embedding(nil), s.embeddings[pageID]...)
}

// PagesForDomain returns copies of all rows for the domain, for tests.
func (s *PageStore) PagesForDomain(domainID string) []pipeline.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.Page
	for key, page := range s.pages {
		if key.domainID == domainID {
			out = append(out, page)
		}
	}
	return out
}

func (s *PageStore) pageExistsLocked(pageID uuid.UUID) bool {
	for _, page := range s.pages {
		if page.ID == pageID {
			return true
		}
	}
	return false
}
