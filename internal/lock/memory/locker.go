// Package memory provides an in-process domain lock for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitechat/ingest/internal/pipeline"
)

type entry struct {
	owner     uuid.UUID
	expiresAt time.Time
}

// Locker implements pipeline.DomainLocker with a mutex-guarded map. Expired
// entries are treated as absent, mirroring TTL expiry on the Redis locker.
type Locker struct {
	mu      sync.Mutex
	clock   pipeline.Clock
	entries map[string]entry
}

// New returns a Locker reading time from clock.
func New(clock pipeline.Clock) *Locker {
	return &Locker{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

// Acquire sets the lock only if absent or expired. Strict set-if-absent: a
// holder refreshing its own lock goes through Renew, not Acquire.
func (l *Locker) Acquire(_ context.Context, domain string, jobID uuid.UUID, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if e, ok := l.entries[domain]; ok && e.expiresAt.After(now) {
		return false, nil
	}
	l.entries[domain] = entry{owner: jobID, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release clears the lock only while jobID still owns it; otherwise no-op.
func (l *Locker) Release(_ context.Context, domain string, jobID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[domain]; ok && e.owner == jobID {
		delete(l.entries, domain)
	}
	return nil
}

// Renew extends the TTL while jobID owns an unexpired lock.
func (l *Locker) Renew(_ context.Context, domain string, jobID uuid.UUID, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	e, ok := l.entries[domain]
	if !ok || e.owner != jobID || !e.expiresAt.After(now) {
		return false, nil
	}
	e.expiresAt = now.Add(ttl)
	l.entries[domain] = e
	return true, nil
}
