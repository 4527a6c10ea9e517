package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-reservations/internal/redis"
)

// Guard keeps two active reservations off the same (practitioner, scheduledAt).
//
// Serialize queues claimants of one slot across processes. Check runs inside the
// claiming transaction: it takes the store's slot lock and then looks for an active
// holder, so check and write commit or roll back together. The store's partial unique
// index is the last line if either lock is bypassed.
type Guard struct {
	locker redisclient.Locker
}

func NewGuard(locker redisclient.Locker) *Guard {
	if locker == nil {
		locker = redisclient.NopLocker{}
	}
	return &Guard{locker: locker}
}

// Serialize runs fn while holding the distributed lock for the slot. Failing to get
// the lock is a retryable store error.
func (g *Guard) Serialize(ctx context.Context, practitioner string, at time.Time, fn func(ctx context.Context) error) error {
	ran := false
	err := g.locker.WithSlotLock(ctx, SlotKey(practitioner, at), func(ctx context.Context) error {
		ran = true
		return fn(ctx)
	})
	if err != nil && !ran {
		return storeErr("slot lock", err)
	}
	return err
}

// Check fails with ErrSlotTaken when an active reservation other than excluding holds
// the slot. Pass uuid.Nil to exclude nothing.
func (g *Guard) Check(ctx context.Context, tx Tx, practitioner string, at time.Time, excluding uuid.UUID) error {
	if err := tx.LockSlot(ctx, practitioner, at); err != nil {
		return err
	}
	holder, held, err := tx.ActiveAt(ctx, practitioner, at)
	if err != nil {
		return err
	}
	if held && holder != excluding {
		return ErrSlotTaken
	}
	return nil
}
