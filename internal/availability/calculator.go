package availability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-reservations/internal/reservation"
	"github.com/hackgods/clinic-reservations/internal/schedule"
)

// Lister is the read side of the reservation store the calculator needs.
type Lister interface {
	ListActiveBetween(ctx context.Context, from, to time.Time, practitioner string) ([]reservation.Reservation, error)
}

type Calculator struct {
	template *schedule.Template
	lister   Lister
	tracer   trace.Tracer
	now      func() time.Time
}

func NewCalculator(template *schedule.Template, lister Lister) *Calculator {
	return &Calculator{
		template: template,
		lister:   lister,
		tracer:   otel.Tracer("github.com/hackgods/clinic-reservations/internal/availability"),
		now:      time.Now,
	}
}

// WithClock replaces the wall clock. Used by tests.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// Result is one day of the grid split into bookable and occupied slots.
type Result struct {
	Date         time.Time
	Practitioner string
	Open         []schedule.TimeOfDay
	Booked       []schedule.TimeOfDay
}

// AvailableSlots subtracts every active reservation on date from the day's grid.
// "any" or an empty practitioner covers all practitioners. Past dates have no open slots,
// and on the current day slots that already started are not open.
func (c *Calculator) AvailableSlots(ctx context.Context, date time.Time, practitioner string) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "availability.AvailableSlots")
	defer span.End()

	filter := strings.TrimSpace(practitioner)
	if reservation.IsAnyPractitioner(filter) {
		filter = ""
	}
	span.SetAttributes(
		attribute.String("availability.date", date.Format(time.DateOnly)),
		attribute.String("availability.practitioner", filter),
	)

	start, end := c.template.Day(date)
	active, err := c.lister.ListActiveBetween(ctx, start, end, filter)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list active reservations: %w", err)
	}

	now := c.now()
	taken := make(map[schedule.TimeOfDay]struct{}, len(active))
	for _, r := range active {
		// Elapsed rows still stored as pending or confirmed are completed.
		if !reservation.EffectiveStatus(r, now).Active() {
			continue
		}
		taken[c.template.TimeOfDay(r.ScheduledAt)] = struct{}{}
	}

	booked := make([]schedule.TimeOfDay, 0, len(taken))
	for tod := range taken {
		booked = append(booked, tod)
	}
	sort.Slice(booked, func(i, j int) bool { return booked[i] < booked[j] })

	res := &Result{
		Date:         start,
		Practitioner: practitioner,
		Open:         []schedule.TimeOfDay{},
		Booked:       booked,
	}

	if !end.After(now) {
		return res, nil
	}

	for _, tod := range c.template.SlotsFor(start, filter) {
		if _, ok := taken[tod]; ok {
			continue
		}
		if reservation.Elapsed(c.template.At(start, tod), now) {
			continue
		}
		res.Open = append(res.Open, tod)
	}
	span.SetAttributes(attribute.Int("availability.open", len(res.Open)))
	return res, nil
}
