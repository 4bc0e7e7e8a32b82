package domain

import (
	"context"
	"time"
)

// SeenFills is an at-most-once delivery filter over the fill stream. Entries
// expire on a TTL tied to the watcher's cursor horizon so memory stays
// bounded by the active watch window rather than process lifetime.
type SeenFills interface {
	// MarkSeen records the fill and reports whether it was seen for the
	// first time.
	MarkSeen(ctx context.Context, account AccountKey, fillID string) (first bool, err error)
}

// RateLimiter provides a shared request budget, used to keep several
// processes inside one indexer API quota.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking so only one instance runs a
// given update or watch cycle at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry read back from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus publishes fill events and alerts for downstream consumers, both
// as ephemeral pub/sub messages and as durable stream entries.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
