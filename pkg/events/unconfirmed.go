package events

import (
	"context"
	"sync"
	"time"

	"github.com/mysocial/bridge-relayers/pkg/types"
)

type ProcessedChecker interface {
	IsDepositProcessed(ctx context.Context, key types.DepositTxKey) (bool, error)
}

type unconfirmed struct {
	position    uint64
	envelope    *EventEnvelope
	publishedAt time.Time
}

// Unconfirmed tracks published deposits until the relay marks them processed.
// A listener never persists its cursor at or past the position of one of them,
// so a restart scans them again.
type Unconfirmed struct {
	mu             sync.Mutex
	redeliverAfter time.Duration
	now            func() time.Time
	entries        map[types.DepositTxKey]*unconfirmed
}

func NewUnconfirmed(redeliverAfter time.Duration) *Unconfirmed {
	return &Unconfirmed{
		redeliverAfter: redeliverAfter,
		now:            time.Now,
		entries:        make(map[types.DepositTxKey]*unconfirmed),
	}
}

// Add records a deposit published from position (a block or checkpoint).
func (u *Unconfirmed) Add(key types.DepositTxKey, position uint64, envelope *EventEnvelope) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if entry, ok := u.entries[key]; ok {
		entry.publishedAt = u.now()
		return
	}
	u.entries[key] = &unconfirmed{position: position, envelope: envelope, publishedAt: u.now()}
}

func (u *Unconfirmed) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.entries)
}

// Refresh drops processed deposits and returns those unprocessed for longer
// than the redelivery interval. Returned deposits count as published again.
func (u *Unconfirmed) Refresh(ctx context.Context, checker ProcessedChecker) ([]*EventEnvelope, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var due []*EventEnvelope
	now := u.now()
	for key, entry := range u.entries {
		processed, err := checker.IsDepositProcessed(ctx, key)
		if err != nil {
			return nil, err
		}
		if processed {
			delete(u.entries, key)
			continue
		}
		if now.Sub(entry.publishedAt) >= u.redeliverAfter {
			entry.publishedAt = now
			due = append(due, entry.envelope)
		}
	}
	return due, nil
}

// Checkpoint returns the cursor to persist once every position up to scanned
// has been read. It is false when nothing can be persisted yet.
func (u *Unconfirmed) Checkpoint(scanned uint64) (uint64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	cursor := scanned
	for _, entry := range u.entries {
		if entry.position > cursor {
			continue
		}
		if entry.position == 0 {
			return 0, false
		}
		cursor = entry.position - 1
	}
	return cursor, true
}
