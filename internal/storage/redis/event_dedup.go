package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const webhookEventKeyPrefix = "webhook:event:"

// EventDeduplicator remembers processed webhook event ids so provider retries
// of an already handled delivery do not issue a second set of licenses.
type EventDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewEventDeduplicator(client *redis.Client, ttl time.Duration, logger *zap.Logger) *EventDeduplicator {
	return &EventDeduplicator{
		client: client,
		ttl:    ttl,
		logger: logger.Named("EventDeduplicator"),
	}
}

// Claim returns true when the caller is the first to see eventID within the TTL.
func (d *EventDeduplicator) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, webhookEventKeyPrefix+eventID, time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		d.logger.Error("Failed to claim webhook event", zap.String("event_id", eventID), zap.Error(err))
		return false, fmt.Errorf("redis error claiming webhook event: %w", err)
	}
	return ok, nil
}

func (d *EventDeduplicator) Release(ctx context.Context, eventID string) error {
	if err := d.client.Del(ctx, webhookEventKeyPrefix+eventID).Err(); err != nil {
		d.logger.Error("Failed to release webhook event claim", zap.String("event_id", eventID), zap.Error(err))
		return fmt.Errorf("redis error releasing webhook event: %w", err)
	}
	return nil
}
