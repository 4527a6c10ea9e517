package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-reservations/internal/config"
	"github.com/hackgods/clinic-reservations/internal/reservation"
)

func TestOpenMemoryDriver(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{
		StoreDriver: config.StoreMemory,
		RedisAddr:   mr.Addr(),
		LockTTL:     time.Second,
		LockWait:    100 * time.Millisecond,
	}

	b, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close(zerolog.Nop())

	assert.Nil(t, b.Pool)
	require.NotNil(t, b.Redis)

	mem, ok := b.Store.(*reservation.MemoryStore)
	require.True(t, ok)
	assert.Same(t, mem, b.Outbox)

	ran := false
	err = b.Locker(cfg).WithSlotLock(context.Background(), "slot:test", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestOpenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(context.Background(), config.Config{StoreDriver: config.StoreMemory, RedisAddr: addr}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis connection")
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Config{StoreDriver: "sqlite"}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}
