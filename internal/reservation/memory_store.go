package reservation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-reservations/internal/events"
	"github.com/hackgods/clinic-reservations/internal/identity"
)

// MemoryStore keeps reservations in process. Transactions are serialized by a single
// mutex and staged until commit, so it enforces the same uniqueness rules and
// all-or-nothing behaviour as the Postgres store. It also serves as the event outbox.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]Reservation
	outbox []*outboxEntry
}

type outboxEntry struct {
	event     events.Event
	delivered bool
	attempts  int
	lastError string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[uuid.UUID]Reservation)}
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) ListActiveBetween(ctx context.Context, from, to time.Time, practitioner string) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Reservation
	for _, r := range s.rows {
		if !r.Status.Active() || r.ScheduledAt.Before(from) || !r.ScheduledAt.Before(to) {
			continue
		}
		if practitioner != "" && r.Practitioner != practitioner {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, owner identity.Owner, limit, offset int) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Reservation
	for _, r := range s.rows {
		if r.Owner.Equal(owner) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SettleElapsed(ctx context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Reservation
	for _, r := range s.rows {
		if r.Status.Active() && Elapsed(r.ScheduledAt, now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, r := range due {
		r.Status = StatusCompleted
		r.UpdatedAt = now
		s.rows[r.ID] = r
	}
	return len(due), nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return storeErr("begin", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, staged: make(map[uuid.UUID]Reservation)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storeErr("commit", err)
	}

	for id, r := range tx.staged {
		s.rows[id] = r
	}
	for _, ev := range tx.events {
		s.outbox = append(s.outbox, &outboxEntry{event: ev})
	}
	return nil
}

// FetchPending implements events.Outbox.
func (s *MemoryStore) FetchPending(ctx context.Context, limit int) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []events.Event
	for _, e := range s.outbox {
		if e.delivered {
			continue
		}
		out = append(out, e.event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.outbox {
		if e.event.ID == id {
			if e.delivered {
				return false, nil
			}
			e.delivered = true
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.outbox {
		if e.event.ID == id {
			e.attempts++
			if cause != nil {
				e.lastError = cause.Error()
			}
		}
	}
	return nil
}

// memTx runs with store.mu held. Writes land in staged until WithTx commits.
type memTx struct {
	store  *MemoryStore
	staged map[uuid.UUID]Reservation
	events []events.Event
}

func (t *memTx) lookup(id uuid.UUID) (Reservation, bool) {
	if r, ok := t.staged[id]; ok {
		return r, true
	}
	r, ok := t.store.rows[id]
	return r, ok
}

// each visits the merged committed and staged view.
func (t *memTx) each(fn func(r Reservation) bool) {
	for id, r := range t.store.rows {
		if staged, ok := t.staged[id]; ok {
			r = staged
		}
		if !fn(r) {
			return
		}
	}
	for id, r := range t.staged {
		if _, committed := t.store.rows[id]; committed {
			continue
		}
		if !fn(r) {
			return
		}
	}
}

func (t *memTx) LockSlot(ctx context.Context, practitioner string, at time.Time) error { return nil }

func (t *memTx) LockOwner(ctx context.Context, owner identity.Owner) error { return nil }

func (t *memTx) ActiveAt(ctx context.Context, practitioner string, at time.Time) (uuid.UUID, bool, error) {
	var holder uuid.UUID
	found := false
	t.each(func(r Reservation) bool {
		if r.Status.Active() && r.Practitioner == practitioner && r.ScheduledAt.Equal(at) {
			holder, found = r.ID, true
			return false
		}
		return true
	})
	return holder, found, nil
}

func (t *memTx) ActiveForOwner(ctx context.Context, owner identity.Owner) (*Reservation, error) {
	var found *Reservation
	t.each(func(r Reservation) bool {
		if r.Status.Active() && r.Owner.Equal(owner) {
			found = &r
			return false
		}
		return true
	})
	return found, nil
}

func (t *memTx) SettleOwner(ctx context.Context, owner identity.Owner, now time.Time) error {
	var due []Reservation
	t.each(func(r Reservation) bool {
		if r.Owner.Equal(owner) && r.Status.Active() && Elapsed(r.ScheduledAt, now) {
			due = append(due, r)
		}
		return true
	})
	for _, r := range due {
		r.Status = StatusCompleted
		r.UpdatedAt = now
		t.staged[r.ID] = r
	}
	return nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, ok := t.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// checkUnique mirrors the partial unique indexes over active rows.
func (t *memTx) checkUnique(next Reservation) error {
	if !next.Status.Active() {
		return nil
	}
	var conflict error
	t.each(func(r Reservation) bool {
		if r.ID == next.ID || !r.Status.Active() {
			return true
		}
		if r.Practitioner == next.Practitioner && r.ScheduledAt.Equal(next.ScheduledAt) {
			conflict = ErrSlotTaken
			return false
		}
		if r.Owner.Equal(next.Owner) {
			conflict = ErrDuplicateActiveReservation
			return false
		}
		return true
	})
	return conflict
}

func (t *memTx) Insert(ctx context.Context, r Reservation) error {
	if _, exists := t.lookup(r.ID); exists {
		return storeErr("insert", errors.New("duplicate reservation id"))
	}
	if err := t.checkUnique(r); err != nil {
		return err
	}
	t.staged[r.ID] = r
	return nil
}

func (t *memTx) UpdateSchedule(ctx context.Context, id uuid.UUID, at, now time.Time) (*Reservation, error) {
	r, ok := t.lookup(id)
	if !ok || !r.Status.Active() {
		return nil, ErrInvalidTransition
	}
	r.ScheduledAt = at
	r.UpdatedAt = now
	if err := t.checkUnique(r); err != nil {
		return nil, err
	}
	t.staged[id] = r
	return &r, nil
}

func (t *memTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes string, now time.Time) (*Reservation, error) {
	r, ok := t.lookup(id)
	if !ok || r.Status != from {
		return nil, ErrInvalidTransition
	}
	r.Status = to
	r.Notes = notes
	r.UpdatedAt = now
	if err := t.checkUnique(r); err != nil {
		return nil, err
	}
	t.staged[id] = r
	return &r, nil
}

func (t *memTx) AppendEvent(ctx context.Context, ev events.Event) error {
	t.events = append(t.events, ev)
	return nil
}
