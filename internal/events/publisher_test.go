package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-reservations/internal/identity"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisPublisherRoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)
	pub := NewRedisPublisher(client, "clinic.reservations.events")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received, err := pub.Subscribe(ctx)
	require.NoError(t, err)

	ev := Event{
		ID:            uuid.New(),
		Type:          TypeRescheduled,
		ReservationID: uuid.New(),
		OwnerKind:     identity.KindPrimary,
		Status:        "pending",
		ScheduledAt:   time.Date(2030, 3, 4, 10, 30, 0, 0, time.UTC),
		OccurredAt:    time.Date(2030, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(ctx, ev))

	select {
	case got := <-received:
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, ev.ReservationID, got.ReservationID)
		assert.Equal(t, TypeRescheduled, got.Type)
		assert.Equal(t, identity.KindPrimary, got.OwnerKind)
		assert.True(t, ev.ScheduledAt.Equal(got.ScheduledAt))
	case <-ctx.Done():
		require.FailNow(t, "no event received")
	}
}

func TestRedisPublisherError(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.SetError("READONLY replica")

	err := NewRedisPublisher(client, "ch").Publish(context.Background(), Event{ID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish ch")
}
