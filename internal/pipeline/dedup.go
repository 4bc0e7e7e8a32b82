package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/perpwatch/engine/internal/domain"
)

// MemorySeenFills is an in-process SeenFills filter with TTL eviction. It
// backs redis-less runs and tests; deployments sharing dedup state across
// instances use the redis implementation instead.
type MemorySeenFills struct {
	seen        map[string]time.Time // account:fillID -> first seen time
	ttl         time.Duration
	lastCleanup time.Time
	mu          sync.Mutex
}

// NewMemorySeenFills creates a filter whose entries expire after ttl.
func NewMemorySeenFills(ttl time.Duration) *MemorySeenFills {
	return &MemorySeenFills{
		seen:        make(map[string]time.Time),
		ttl:         ttl,
		lastCleanup: time.Now(),
	}
}

// MarkSeen records the fill and reports whether this is its first sighting
// within the TTL window. Expired entries are swept opportunistically so the
// map stays bounded by the active watch window.
func (m *MemorySeenFills) MarkSeen(_ context.Context, account domain.AccountKey, fillID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if now.Sub(m.lastCleanup) >= m.ttl {
		m.cleanupLocked(now)
	}

	key := account.String() + ":" + fillID
	if firstSeen, ok := m.seen[key]; ok && now.Sub(firstSeen) < m.ttl {
		return false, nil
	}
	m.seen[key] = now
	return true, nil
}

// cleanupLocked removes entries older than the TTL. Caller holds m.mu.
func (m *MemorySeenFills) cleanupLocked(now time.Time) {
	for key, ts := range m.seen {
		if now.Sub(ts) >= m.ttl {
			delete(m.seen, key)
		}
	}
	m.lastCleanup = now
}

// Compile-time interface check.
var _ domain.SeenFills = (*MemorySeenFills)(nil)
