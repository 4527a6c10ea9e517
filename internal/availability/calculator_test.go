package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-reservations/internal/identity"
	redisclient "github.com/hackgods/clinic-reservations/internal/redis"
	"github.com/hackgods/clinic-reservations/internal/reservation"
	"github.com/hackgods/clinic-reservations/internal/schedule"
)

var (
	day      = time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	clockNow = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
)

func at(hour, minute int) time.Time {
	return time.Date(2030, 1, 2, hour, minute, 0, 0, time.UTC)
}

func tod(t *testing.T, s string) schedule.TimeOfDay {
	t.Helper()
	v, err := schedule.ParseTimeOfDay(s)
	require.NoError(t, err)
	return v
}

type env struct {
	store   *reservation.MemoryStore
	manager *reservation.Manager
	calc    *Calculator
	now     time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	windows, err := schedule.ParseWindows("09:00-18:00")
	require.NoError(t, err)
	tmpl, err := schedule.NewTemplate(windows, 10*time.Minute, time.UTC)
	require.NoError(t, err)

	e := &env{store: reservation.NewMemoryStore(), now: clockNow}
	clock := func() time.Time { return e.now }
	e.manager = reservation.NewManager(e.store, reservation.NewGuard(redisclient.NopLocker{}), tmpl, zerolog.Nop(),
		reservation.WithClock(clock))
	e.calc = NewCalculator(tmpl, e.store).WithClock(clock)
	return e
}

func TestAvailableSlotsEmptyDay(t *testing.T) {
	e := newEnv(t)

	res, err := e.calc.AvailableSlots(context.Background(), day, "any")
	require.NoError(t, err)
	assert.Len(t, res.Open, 54)
	assert.Empty(t, res.Booked)
	assert.Equal(t, tod(t, "09:00"), res.Open[0])
	assert.Equal(t, tod(t, "17:50"), res.Open[53])
}

func TestAvailableSlotsBookedSlotLeavesOpen(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.manager.Create(ctx, identity.Primary("a"), at(14, 0), "dr-lee", "")
	require.NoError(t, err)

	res, err := e.calc.AvailableSlots(ctx, day, "dr-lee")
	require.NoError(t, err)
	assert.Len(t, res.Open, 53)
	assert.NotContains(t, res.Open, tod(t, "14:00"))
	assert.Equal(t, []schedule.TimeOfDay{tod(t, "14:00")}, res.Booked)

	other, err := e.calc.AvailableSlots(ctx, day, "dr-kim")
	require.NoError(t, err)
	assert.Len(t, other.Open, 54, "other practitioners are unaffected")
	assert.Empty(t, other.Booked)

	all, err := e.calc.AvailableSlots(ctx, day, "")
	require.NoError(t, err)
	assert.Equal(t, []schedule.TimeOfDay{tod(t, "14:00")}, all.Booked)
}

func TestAvailableSlotsFollowRescheduleAndCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := identity.Secondary("g-1")

	r, err := e.manager.Create(ctx, owner, at(14, 0), "dr-lee", "")
	require.NoError(t, err)

	_, err = e.manager.Reschedule(ctx, r.ID, owner, at(15, 0))
	require.NoError(t, err)

	res, err := e.calc.AvailableSlots(ctx, day, "dr-lee")
	require.NoError(t, err)
	assert.Contains(t, res.Open, tod(t, "14:00"))
	assert.Equal(t, []schedule.TimeOfDay{tod(t, "15:00")}, res.Booked)

	_, err = e.manager.Cancel(ctx, r.ID, owner, "")
	require.NoError(t, err)

	res, err = e.calc.AvailableSlots(ctx, day, "dr-lee")
	require.NoError(t, err)
	assert.Len(t, res.Open, 54)
	assert.Empty(t, res.Booked)
}

func TestAvailableSlotsPastDate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.manager.Create(ctx, identity.Primary("a"), at(9, 0), "dr-lee", "")
	require.NoError(t, err)

	e.now = day.AddDate(0, 0, 3)
	res, err := e.calc.AvailableSlots(ctx, day, "any")
	require.NoError(t, err)
	assert.Empty(t, res.Open)
	assert.NotNil(t, res.Open)
}

func TestAvailableSlotsBookedAgreesWithSettling(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.manager.Create(ctx, identity.Primary("a"), at(14, 0), "dr-lee", "")
	require.NoError(t, err)
	_, err = e.manager.Create(ctx, identity.Primary("b"), at(15, 0), "dr-lee", "")
	require.NoError(t, err)

	e.now = at(14, 30)
	before, err := e.calc.AvailableSlots(ctx, day, "dr-lee")
	require.NoError(t, err)
	assert.Equal(t, []schedule.TimeOfDay{tod(t, "15:00")}, before.Booked, "elapsed 14:00 is completed, not booked")

	settled, err := e.manager.SettleElapsed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	after, err := e.calc.AvailableSlots(ctx, day, "dr-lee")
	require.NoError(t, err)
	assert.Equal(t, before.Booked, after.Booked)
	assert.Equal(t, before.Open, after.Open)

	e.now = day.AddDate(0, 0, 3)
	res, err := e.calc.AvailableSlots(ctx, day, "dr-lee")
	require.NoError(t, err)
	assert.Empty(t, res.Booked)
}

func TestAvailableSlotsTodayExcludesElapsed(t *testing.T) {
	e := newEnv(t)
	e.now = at(17, 25)

	res, err := e.calc.AvailableSlots(context.Background(), day, "dr-lee")
	require.NoError(t, err)
	assert.Equal(t, []schedule.TimeOfDay{tod(t, "17:30"), tod(t, "17:40"), tod(t, "17:50")}, res.Open)
}

func TestAvailableSlotsUnknownPractitioner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.manager.Create(ctx, identity.Primary("a"), at(10, 0), "dr-lee", "")
	require.NoError(t, err)

	res, err := e.calc.AvailableSlots(ctx, day, "nobody")
	require.NoError(t, err)
	assert.Len(t, res.Open, 54)
}

type failingLister struct{}

func (failingLister) ListActiveBetween(ctx context.Context, from, to time.Time, practitioner string) ([]reservation.Reservation, error) {
	return nil, &reservation.StoreError{Op: "list", Err: errors.New("down")}
}

func TestAvailableSlotsStoreFailure(t *testing.T) {
	windows, err := schedule.ParseWindows("09:00-10:00")
	require.NoError(t, err)
	tmpl, err := schedule.NewTemplate(windows, 30*time.Minute, time.UTC)
	require.NoError(t, err)

	_, err = NewCalculator(tmpl, failingLister{}).AvailableSlots(context.Background(), day, "")
	assert.True(t, reservation.Retryable(err))
}
