package audit

import (
	"context"
	"encoding/json"
	"time"

	"parking/internal/store"

	"github.com/redis/go-redis/v9"
)

// DeadLetterKey is the Redis list that collects audit entries the flusher
// could not write.
const DeadLetterKey = "dlq:audit"

type Alerter interface {
	Alert(ctx context.Context, row store.OutboxRow, reason string) error
}

type deadLetter struct {
	OutboxSeq   int64   `json:"outbox_seq"`
	EntityType  string  `json:"entity_type"`
	EntityID    string  `json:"entity_id"`
	Action      string  `json:"action"`
	OldValue    *string `json:"old_value,omitempty"`
	NewValue    *string `json:"new_value,omitempty"`
	PerformedBy string  `json:"performed_by"`
	OccurredAt  string  `json:"occurred_at"`
	Reason      string  `json:"reason"`
	FailedAt    string  `json:"failed_at"`
}

type RedisAlerter struct {
	rdb redis.Cmdable
}

func NewRedisAlerter(rdb redis.Cmdable) *RedisAlerter {
	return &RedisAlerter{rdb: rdb}
}

func (a *RedisAlerter) Alert(ctx context.Context, row store.OutboxRow, reason string) error {
	data, err := json.Marshal(deadLetter{
		OutboxSeq:   row.Seq,
		EntityType:  row.EntityType,
		EntityID:    row.EntityID,
		Action:      row.Action,
		OldValue:    row.OldValue,
		NewValue:    row.NewValue,
		PerformedBy: row.PerformedBy,
		OccurredAt:  row.Timestamp.UTC().Format(time.RFC3339Nano),
		Reason:      reason,
		FailedAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return a.rdb.LPush(ctx, DeadLetterKey, data).Err()
}

// Pending reports how many alerts are waiting for manual inspection.
func (a *RedisAlerter) Pending(ctx context.Context) (int64, error) {
	return a.rdb.LLen(ctx, DeadLetterKey).Result()
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
