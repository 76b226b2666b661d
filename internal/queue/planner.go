package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlannerConfig controls batch slot generation.
type PlannerConfig struct {
	SlotDuration    time.Duration
	DefaultCapacity int
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		SlotDuration:    time.Hour,
		DefaultCapacity: 10,
	}
}

// Planner derives the bookable time units of a doctor's day from the
// doctor's availability window and existing bookings.
type Planner struct {
	repo Repository
	cfg  PlannerConfig
	now  func() time.Time
}

func NewPlanner(repo Repository, cfg PlannerConfig) *Planner {
	return &Planner{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
	}
}

// GenerateDailySlots creates the fixed-duration capacity slots for one
// doctor's day. It refuses to run twice for the same day.
func (p *Planner) GenerateDailySlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, error) {
	doctor, err := p.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if day.IsZero() {
		day = p.now()
	}
	if !doctor.WorksOn(day.Weekday()) {
		return nil, ErrNotWorkingDay
	}

	existing, err := p.repo.FindSlotsForDay(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("check existing slots: %w", err)
	}
	if len(existing) > 0 {
		return nil, ErrSlotsExist
	}

	startMin, err := parseClock(doctor.DayStart)
	if err != nil {
		return nil, fmt.Errorf("doctor day start: %w", err)
	}
	endMin, err := parseClock(doctor.DayEnd)
	if err != nil {
		return nil, fmt.Errorf("doctor day end: %w", err)
	}

	durMin := int(p.cfg.SlotDuration / time.Minute)
	dayStart := startOfDay(day)

	var slots []Slot
	for cur := startMin; cur+durMin <= endMin; cur += durMin {
		start := dayStart.Add(time.Duration(cur) * time.Minute)
		slots = append(slots, Slot{
			DoctorID:    doctorID,
			StartTime:   start,
			EndTime:     start.Add(p.cfg.SlotDuration),
			MaxCapacity: p.cfg.DefaultCapacity,
		})
	}

	created, err := p.repo.CreateSlots(ctx, slots)
	if err != nil {
		return nil, fmt.Errorf("create slots: %w", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"doctor_id": doctorID.String(),
		"date":      dayStart.Format("2006-01-02"),
		"slots":     len(created),
	})
	if err := p.repo.InsertEvent(ctx, EventLog{
		EventType: EventSlotsInitialized,
		Payload:   payload,
		CreatedAt: p.now(),
	}); err != nil {
		log.Printf("failed to insert event log %s for doctor %s: %v", EventSlotsInitialized, doctorID, err)
	}

	return created, nil
}

// FindAvailableTimes returns the discrete bookable HH:MM list for a
// doctor's day: consultation-duration slices between the availability
// window, minus times held by non-terminal tokens, with past slices of
// today marked unavailable.
func (p *Planner) FindAvailableTimes(ctx context.Context, doctorID uuid.UUID, day time.Time) (*DayAvailability, error) {
	doctor, err := p.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	now := p.now()
	if day.IsZero() {
		day = now
	}

	avail := &DayAvailability{
		Doctor: doctor,
		Date:   startOfDay(day),
	}

	if !doctor.WorksOn(day.Weekday()) {
		// Structured outcome, not an error: a closed day simply has no
		// bookable times.
		return avail, nil
	}
	avail.IsWorkingDay = true

	startMin, err := parseClock(doctor.DayStart)
	if err != nil {
		return nil, fmt.Errorf("doctor day start: %w", err)
	}
	endMin, err := parseClock(doctor.DayEnd)
	if err != nil {
		return nil, fmt.Errorf("doctor day end: %w", err)
	}

	booked, err := p.repo.FindTokensForDay(ctx, doctorID, day, ActiveStatuses)
	if err != nil {
		return nil, fmt.Errorf("load booked tokens: %w", err)
	}
	bookedTimes := make(map[string]bool, len(booked))
	for _, tok := range booked {
		bookedTimes[tok.ScheduledTime] = true
	}
	avail.BookedCount = len(bookedTimes)

	dayStart := startOfDay(day)
	today := dayStart.Equal(startOfDay(now))
	avail.IsToday = today

	nowMin := 0
	if today {
		nowMin = now.Hour()*60 + now.Minute()
	}

	dur := doctor.ConsultationDuration
	if dur <= 0 {
		dur = int(p.cfg.SlotDuration / time.Minute)
	}

	for cur := startMin; cur+dur <= endMin; cur += dur {
		t := minutesToClock(cur)
		// Strictly before now: a slice starting at this very minute
		// can still be booked.
		past := today && cur < nowMin
		avail.Times = append(avail.Times, TimeAvailability{
			Time:      t,
			Available: !bookedTimes[t] && !past,
			Past:      past,
		})
	}

	return avail, nil
}

// FindAvailableSlot resolves the capacity slot a walk-up booking should land
// on: the currently running slot if one is open, otherwise the next slot of
// the day. Emergencies ignore fullness; the overflow allowance bounds them
// at admission.
func (p *Planner) FindAvailableSlot(ctx context.Context, doctorID uuid.UUID, at time.Time, emergency bool) (*Slot, error) {
	slot, err := p.repo.FindSlotAt(ctx, doctorID, at)
	if err != nil && !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("find current slot: %w", err)
	}
	if slot != nil && (emergency || !slot.IsFull) {
		return slot, nil
	}

	next, err := p.repo.FindNextSlot(ctx, doctorID, at, emergency)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Clock helpers. Scheduled times travel as zero-padded HH:MM strings, so
// lexicographic order is chronological order.

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}

func minutesToClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

func clockString(t time.Time) string {
	return t.Format("15:04")
}

func atClock(day time.Time, clock string) time.Time {
	min, err := parseClock(clock)
	if err != nil {
		return startOfDay(day)
	}
	return startOfDay(day).Add(time.Duration(min) * time.Minute)
}
