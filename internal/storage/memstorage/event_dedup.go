package memstorage

import (
	"context"
	"sync"
	"time"
)

// EventDeduplicator is the in-process counterpart of the Redis deduplicator.
type EventDeduplicator struct {
	mu     sync.Mutex
	claims map[string]time.Time
	ttl    time.Duration
}

func NewEventDeduplicator(ttl time.Duration) *EventDeduplicator {
	return &EventDeduplicator{claims: make(map[string]time.Time), ttl: ttl}
}

func (d *EventDeduplicator) Claim(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if exp, ok := d.claims[eventID]; ok && now.Before(exp) {
		return false, nil
	}
	d.claims[eventID] = now.Add(d.ttl)
	return true, nil
}

func (d *EventDeduplicator) Release(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.claims, eventID)
	return nil
}
