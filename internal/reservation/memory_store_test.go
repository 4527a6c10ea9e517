package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-reservations/internal/events"
	"github.com/hackgods/clinic-reservations/internal/identity"
)

func newRow(owner identity.Owner, practitioner string, at time.Time) Reservation {
	return Reservation{
		ID:           uuid.New(),
		Owner:        owner,
		Practitioner: practitioner,
		ScheduledAt:  at,
		Status:       StatusPending,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
}

func insert(t *testing.T, s *MemoryStore, rows ...Reservation) {
	t.Helper()
	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		for _, r := range rows {
			if err := tx.Insert(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRow(identity.Primary("a"), "dr-lee", slot(10, 0))
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.Insert(ctx, r))
		require.NoError(t, tx.AppendEvent(ctx, events.Event{ID: uuid.New(), ReservationID: r.ID}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	pending, err := s.FetchPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemoryStoreUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first := newRow(identity.Primary("a"), "dr-lee", slot(10, 0))
	insert(t, s, first)

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Insert(ctx, newRow(identity.Primary("b"), "dr-lee", slot(10, 0)))
	})
	assert.ErrorIs(t, err, ErrSlotTaken)

	err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Insert(ctx, newRow(identity.Primary("a"), "dr-kim", slot(11, 0)))
	})
	assert.ErrorIs(t, err, ErrDuplicateActiveReservation)

	// a cancelled row frees both the slot and the owner
	err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.UpdateStatus(ctx, first.ID, StatusPending, StatusCancelled, "", testNow)
		return err
	})
	require.NoError(t, err)
	insert(t, s, newRow(identity.Primary("a"), "dr-lee", slot(10, 0)))
}

func TestMemoryStoreStagedViewInsideTx(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRow(identity.Secondary("g"), "dr-lee", slot(12, 0))

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.Insert(ctx, r))

		holder, held, err := tx.ActiveAt(ctx, "dr-lee", slot(12, 0))
		require.NoError(t, err)
		assert.True(t, held)
		assert.Equal(t, r.ID, holder)

		active, err := tx.ActiveForOwner(ctx, identity.Secondary("g"))
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, r.ID, active.ID)

		none, err := tx.ActiveForOwner(ctx, identity.Primary("g"))
		require.NoError(t, err)
		assert.Nil(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreUpdateStatusChecksFrom(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRow(identity.Primary("a"), "dr-lee", slot(10, 0))
	insert(t, s, r)

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.UpdateStatus(ctx, r.ID, StatusConfirmed, StatusCancelled, "", testNow)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.UpdateSchedule(ctx, uuid.New(), slot(11, 0), testNow)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error { return nil })
	assert.True(t, Retryable(err))
}

func TestMemoryStoreListsAndSettle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := newRow(identity.Primary("a"), "dr-lee", slot(9, 0))
	b := newRow(identity.Primary("b"), "dr-kim", slot(11, 0))
	c := newRow(identity.Primary("c"), "dr-lee", slot(13, 0))
	c.CreatedAt = testNow.Add(time.Minute)
	insert(t, s, a, b, c)

	all, err := s.ListActiveBetween(ctx, slot(0, 0), slot(23, 0), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, a.ID, all[0].ID)

	lee, err := s.ListActiveBetween(ctx, slot(0, 0), slot(23, 0), "dr-lee")
	require.NoError(t, err)
	assert.Len(t, lee, 2)

	// half-open window
	window, err := s.ListActiveBetween(ctx, slot(9, 0), slot(11, 0), "")
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, a.ID, window[0].ID)

	n, err := s.SettleElapsed(ctx, slot(11, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.SettleElapsed(ctx, slot(11, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestMemoryStoreOutbox(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ev := events.Event{ID: uuid.New(), Type: events.TypeCreated}

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.AppendEvent(ctx, ev)
	}))

	pending, err := s.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.MarkFailed(ctx, ev.ID, errors.New("down")))
	pending, err = s.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "failed events stay pending")

	ok, err := s.MarkDelivered(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkDelivered(ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err = s.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
