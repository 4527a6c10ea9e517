package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock offset in minutes after midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// TimeOfDayOf returns the hour:minute of t in t's own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Window is an operating interval, end exclusive.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// ParseWindows parses a comma separated list like "09:00-12:00,13:00-18:00".
func ParseWindows(raw string) ([]Window, error) {
	var windows []Window
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("window %q: expected HH:MM-HH:MM", part)
		}
		start, err := ParseTimeOfDay(bounds[0])
		if err != nil {
			return nil, err
		}
		end, err := ParseTimeOfDay(bounds[1])
		if err != nil {
			return nil, err
		}
		if end <= start {
			return nil, fmt.Errorf("window %q: end must be after start", part)
		}
		windows = append(windows, Window{Start: start, End: end})
	}
	if len(windows) == 0 {
		return nil, errors.New("no operating windows")
	}
	return windows, nil
}

// Template is the daily slot grid. It is immutable once built and safe for concurrent use.
type Template struct {
	loc     *time.Location
	spacing time.Duration
	slots   []TimeOfDay
	index   map[TimeOfDay]struct{}
}

// NewTemplate materializes every slot that fits entirely inside one of the windows.
func NewTemplate(windows []Window, spacing time.Duration, loc *time.Location) (*Template, error) {
	if len(windows) == 0 {
		return nil, errors.New("no operating windows")
	}
	if spacing <= 0 || spacing%time.Minute != 0 || spacing > 24*time.Hour {
		return nil, fmt.Errorf("spacing %s must be a positive whole number of minutes", spacing)
	}
	if loc == nil {
		loc = time.UTC
	}

	step := TimeOfDay(spacing / time.Minute)
	index := make(map[TimeOfDay]struct{})
	for _, w := range windows {
		if w.Start < 0 || w.End > minutesPerDay || w.End <= w.Start {
			return nil, fmt.Errorf("window %s-%s out of range", w.Start, w.End)
		}
		for cursor := w.Start; cursor+step <= w.End; cursor += step {
			index[cursor] = struct{}{}
		}
	}
	if len(index) == 0 {
		return nil, errors.New("windows are shorter than one slot")
	}

	slots := make([]TimeOfDay, 0, len(index))
	for tod := range index {
		slots = append(slots, tod)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	return &Template{loc: loc, spacing: spacing, slots: slots, index: index}, nil
}

func (t *Template) Location() *time.Location { return t.loc }
func (t *Template) Spacing() time.Duration   { return t.spacing }

// Slots returns the grid in ascending order.
func (t *Template) Slots() []TimeOfDay {
	out := make([]TimeOfDay, len(t.slots))
	copy(out, t.slots)
	return out
}

// SlotsFor returns the grid for one practitioner on one day. Every day and every
// practitioner currently share the same grid.
func (t *Template) SlotsFor(date time.Time, practitioner string) []TimeOfDay {
	return t.Slots()
}

func (t *Template) Contains(tod TimeOfDay) bool {
	_, ok := t.index[tod]
	return ok
}

// TimeOfDay converts an instant to the clinic's wall clock.
func (t *Template) TimeOfDay(at time.Time) TimeOfDay {
	return TimeOfDayOf(at.In(t.loc))
}

// OnGrid reports whether at lands exactly on a template slot in the clinic timezone.
func (t *Template) OnGrid(at time.Time) bool {
	local := at.In(t.loc)
	if local.Second() != 0 || local.Nanosecond() != 0 {
		return false
	}
	return t.Contains(TimeOfDayOf(local))
}

// ParseDate parses YYYY-MM-DD as a calendar day in the clinic timezone.
func (t *Template) ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(s), t.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// Day returns the half-open interval [start, end) covering date's calendar day.
func (t *Template) Day(date time.Time) (time.Time, time.Time) {
	y, m, d := date.In(t.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.loc)
	return start, start.AddDate(0, 0, 1)
}

// At places a slot on date's calendar day.
func (t *Template) At(date time.Time, tod TimeOfDay) time.Time {
	y, m, d := date.In(t.loc).Date()
	return time.Date(y, m, d, tod.Hour(), tod.Minute(), 0, 0, t.loc)
}
