package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository with the same atomicity contract as
// the Postgres implementation: conditional mutators apply under one mutex.
type memRepo struct {
	mu      sync.Mutex
	doctors map[uuid.UUID]*Doctor
	slots   map[uuid.UUID]*Slot
	tokens  map[uuid.UUID]*Token
	events  []EventLog
	now     func() time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors: make(map[uuid.UUID]*Doctor),
		slots:   make(map[uuid.UUID]*Slot),
		tokens:  make(map[uuid.UUID]*Token),
		now:     time.Now,
	}
}

func (r *memRepo) addDoctor(d Doctor) *Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	r.doctors[d.ID] = &d
	return &d
}

func (r *memRepo) addSlot(s Slot) *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.IsFull = s.CurrentCount >= s.MaxCapacity
	r.slots[s.ID] = &s
	return &s
}

func (r *memRepo) addToken(t Token) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	r.tokens[t.ID] = &t
	return &t
}

func (r *memRepo) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) ListDoctors(ctx context.Context) ([]Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Doctor, 0, len(r.doctors))
	for _, d := range r.doctors {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) CreateDoctor(ctx context.Context, d *Doctor) (*Doctor, error) {
	cp := *d
	return r.addDoctor(cp), nil
}

func (r *memRepo) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) FindSlotsForDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start, end := dayBounds(day)
	var out []Slot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && !s.StartTime.Before(start) && s.StartTime.Before(end) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *memRepo) FindSlotAt(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.DoctorID == doctorID && !s.StartTime.After(at) && s.EndTime.After(at) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSlotNotFound
}

func (r *memRepo) FindNextSlot(ctx context.Context, doctorID uuid.UUID, after time.Time, includeFull bool) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Slot
	for _, s := range r.slots {
		if s.DoctorID != doctorID || !s.StartTime.After(after) {
			continue
		}
		if !includeFull && s.IsFull {
			continue
		}
		if best == nil || s.StartTime.Before(best.StartTime) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrSlotNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *memRepo) CreateSlots(ctx context.Context, slots []Slot) ([]Slot, error) {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, *r.addSlot(s))
	}
	return out, nil
}

func (r *memRepo) ReleaseSeat(ctx context.Context, slotID uuid.UUID, emergency bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok {
		return nil
	}
	if s.CurrentCount > 0 {
		s.CurrentCount--
	}
	if emergency && s.EmergencyCount > 0 {
		s.EmergencyCount--
	}
	s.IsFull = s.CurrentCount >= s.MaxCapacity
	return nil
}

func (r *memRepo) GetTokenByID(ctx context.Context, id uuid.UUID) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) GetTokenByPublicID(ctx context.Context, tokenID string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenID == tokenID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (r *memRepo) FindTokensForDay(ctx context.Context, doctorID uuid.UUID, day time.Time, statuses []TokenStatus) ([]Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start, end := dayBounds(day)
	wanted := make(map[TokenStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var out []Token
	for _, t := range r.tokens {
		if t.DoctorID == doctorID && wanted[t.Status] && !t.AppointmentDate.Before(start) && t.AppointmentDate.Before(end) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledTime != out[j].ScheduledTime {
			return out[i].ScheduledTime < out[j].ScheduledTime
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memRepo) CountTokensForDay(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start, end := dayBounds(day)
	count := 0
	for _, t := range r.tokens {
		if t.DoctorID == doctorID && !t.AppointmentDate.Before(start) && t.AppointmentDate.Before(end) {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) HasBookingAt(ctx context.Context, doctorID uuid.UUID, day time.Time, scheduled string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start, end := dayBounds(day)
	for _, t := range r.tokens {
		if t.DoctorID == doctorID && t.ScheduledTime == scheduled && !t.Status.Terminal() &&
			!t.AppointmentDate.Before(start) && t.AppointmentDate.Before(end) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) CountEmergenciesAt(ctx context.Context, doctorID uuid.UUID, day time.Time, scheduled string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start, end := dayBounds(day)
	count := 0
	for _, t := range r.tokens {
		if t.DoctorID == doctorID && t.ScheduledTime == scheduled && t.Category == CategoryEmergency &&
			!t.Status.Terminal() && !t.AppointmentDate.Before(start) && t.AppointmentDate.Before(end) {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) IssueToken(ctx context.Context, tok *Token, slotID *uuid.UUID, emergency bool, allowance int) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slotID != nil {
		s, ok := r.slots[*slotID]
		if !ok {
			return nil, ErrSlotNotFound
		}
		if emergency {
			if s.EmergencyCount >= allowance {
				return nil, ErrOverflowExhausted
			}
			s.EmergencyCount++
		} else {
			if s.CurrentCount >= s.MaxCapacity {
				return nil, ErrSlotFull
			}
		}
		s.CurrentCount++
		s.IsFull = s.CurrentCount >= s.MaxCapacity
	}

	cp := *tok
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.SlotID = slotID
	cp.Status = StatusPending
	now := r.now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.tokens[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (r *memRepo) UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to TokenStatus, resolvedAt *time.Time) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok || t.Status != from {
		return nil, ErrTokenNotFound
	}
	t.Status = to
	t.UpdatedAt = r.now()
	if resolvedAt != nil {
		t.ResolvedAt = resolvedAt
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) ForceTokenStatus(ctx context.Context, id uuid.UUID, to TokenStatus, resolvedAt *time.Time) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	t.Status = to
	t.UpdatedAt = r.now()
	if resolvedAt != nil {
		t.ResolvedAt = resolvedAt
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) FindOverdueScheduled(ctx context.Context, cutoff time.Time) ([]Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Token
	for _, t := range r.tokens {
		if t.Status != StatusPending {
			continue
		}
		if atClock(t.AppointmentDate, t.ScheduledTime).Before(cutoff) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// memLocker serializes sections per key in-process, mirroring the Redis
// locker's semantics without a server.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// Shared fixtures

func allWeekdays() []time.Weekday {
	return []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
}

func testDoctor() Doctor {
	return Doctor{
		ID:                   uuid.New(),
		Name:                 "Dr. Asha Rao",
		ConsultationDuration: 30,
		WorkingDays:          allWeekdays(),
		DayStart:             "09:00",
		DayEnd:               "17:00",
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
