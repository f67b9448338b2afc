// AngelaMos | 2026
// dedupe.go

package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventKeyPrefix  = "billing:webhook:event:"
	defaultEventTTL = 72 * time.Hour
)

// EventLedger remembers processor events that were already applied.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) bool
	Record(ctx context.Context, eventID string)
}

// RedisLedger keeps applied event ids in Redis. It fails open: when Redis
// is unavailable every event is processed, which is safe because every
// handler is a recomputation rather than an increment.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Seen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}

	n, err := l.client.Exists(ctx, eventKeyPrefix+eventID).Result()
	if err != nil {
		slog.WarnContext(ctx, "webhook ledger lookup failed, processing event",
			"event_id", eventID,
			"error", err,
		)
		return false
	}
	return n > 0
}

func (l *RedisLedger) Record(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}

	if err := l.client.SetNX(ctx, eventKeyPrefix+eventID, time.Now().Unix(), l.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "webhook ledger write failed",
			"event_id", eventID,
			"error", err,
		)
	}
}
