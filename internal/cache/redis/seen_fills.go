package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perpwatch/engine/internal/domain"
)

// SeenFills implements domain.SeenFills using SET NX with a TTL. Each fill
// key lives for the configured TTL and then expires, so the dedup set stays
// bounded by the active watch window. Instances sharing the same Redis share
// the filter, which keeps emits at-most-once across a scaled deployment.
type SeenFills struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSeenFills creates a SeenFills filter whose entries expire after ttl.
func NewSeenFills(c *Client, ttl time.Duration) *SeenFills {
	return &SeenFills{
		rdb: c.Underlying(),
		ttl: ttl,
	}
}

func seenKey(account domain.AccountKey, fillID string) string {
	return "seen:" + account.String() + ":" + fillID
}

// MarkSeen records the fill and reports whether this is its first sighting
// within the TTL window.
func (sf *SeenFills) MarkSeen(ctx context.Context, account domain.AccountKey, fillID string) (bool, error) {
	first, err := sf.rdb.SetNX(ctx, seenKey(account, fillID), 1, sf.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark fill seen %s: %w", fillID, err)
	}
	return first, nil
}

// Compile-time interface check.
var _ domain.SeenFills = (*SeenFills)(nil)
