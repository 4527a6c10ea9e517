package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-reservations/internal/identity"
)

func TestAppendInsertsRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ev := Event{
		ID:            uuid.New(),
		Type:          TypeCreated,
		ReservationID: uuid.New(),
		OwnerKind:     identity.KindSecondary,
		Status:        "pending",
		ScheduledAt:   time.Date(2030, 1, 2, 14, 0, 0, 0, time.UTC),
		OccurredAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO reservation_events").
		WithArgs(ev.ID, ev.ReservationID, "reservation.created", "secondary", "pending", ev.ScheduledAt, ev.OccurredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, Append(context.Background(), mock, ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendWrapsError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO reservation_events").WillReturnError(errors.New("conn reset"))

	err = Append(context.Background(), mock, Event{ID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert outbox")
}

func TestPgOutboxFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	outbox := newPgOutboxWithDB(mock)
	ctx := context.Background()

	id := uuid.New()
	resID := uuid.New()
	at := time.Date(2030, 1, 2, 15, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "reservation_id", "type", "owner_kind", "status", "scheduled_at", "created_at"}).
		AddRow(id, resID, "reservation.cancelled", "primary", "cancelled", at, now)
	mock.ExpectQuery("SELECT id, reservation_id").WithArgs(10).WillReturnRows(rows)

	pending, err := outbox.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, resID, pending[0].ReservationID)
	assert.Equal(t, TypeCancelled, pending[0].Type)
	assert.Equal(t, identity.KindPrimary, pending[0].OwnerKind)
	assert.True(t, at.Equal(pending[0].ScheduledAt))

	mock.ExpectExec("UPDATE reservation_events").WithArgs(id, "redis down").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, outbox.MarkFailed(ctx, id, errors.New("redis down")))

	mock.ExpectExec("UPDATE reservation_events").WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := outbox.MarkDelivered(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE reservation_events").WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = outbox.MarkDelivered(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "second acknowledgement is a no-op")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgOutboxFetchError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, reservation_id").WithArgs(5).WillReturnError(errors.New("timeout"))

	_, err = newPgOutboxWithDB(mock).FetchPending(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch pending")
}
