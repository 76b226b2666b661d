package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/slotsaarthi/opd-token-engine/internal/redis"
)

const (
	EventTokenIssued      = "TOKEN_ISSUED"
	EventTokenCancelled   = "TOKEN_CANCELLED"
	EventTokenNoShow      = "TOKEN_NO_SHOW"
	EventTokenCalled      = "TOKEN_CALLED"
	EventTokenOverridden  = "TOKEN_STATUS_OVERRIDDEN"
	EventSlotsInitialized = "SLOTS_INITIALIZED"
)

var (
	ErrQueueBusy = errors.New("queue is busy, please retry")
)

// AdmitRequest describes one booking attempt. Exactly one of SlotID,
// ScheduledTime, or neither may be set: with neither, the allocator resolves
// the current-or-next open slot for the doctor (legacy walk-up mode).
type AdmitRequest struct {
	DoctorID      uuid.UUID
	PatientName   string
	Category      Category
	Date          time.Time
	ScheduledTime string // HH:MM, optional
	SlotID        *uuid.UUID
}

// Allocator owns admission decisions against a doctor's capacity. All
// read-decide-write steps run inside a per-doctor-per-day lock, and the seat
// increment itself is a conditional store update, so concurrent admissions
// can never over-fill a slot even if the lock lease expires mid-flight.
type Allocator struct {
	repo    Repository
	locker  redisclient.Locker
	cfg     PriorityConfig
	planner *Planner
	now     func() time.Time
}

func NewAllocator(repo Repository, locker redisclient.Locker, cfg PriorityConfig, planner *Planner) *Allocator {
	return &Allocator{
		repo:    repo,
		locker:  locker,
		cfg:     cfg,
		planner: planner,
		now:     time.Now,
	}
}

func (a *Allocator) Admit(ctx context.Context, req AdmitRequest) (*Token, error) {
	if !ValidCategory(req.Category) {
		return nil, ErrInvalidCategory
	}
	if req.PatientName == "" {
		return nil, errors.New("patient name is required")
	}

	doctor, err := a.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	day := req.Date
	if day.IsZero() {
		day = a.now()
	}

	// In slot mode the slot's own day is authoritative: the seat, the
	// token, the lock key and the arrival sequence must all land on the
	// same day.
	var target *Slot
	if req.SlotID != nil {
		target, err = a.repo.GetSlotByID(ctx, *req.SlotID)
		if err != nil {
			return nil, err
		}
		if target.DoctorID != doctor.ID {
			return nil, ErrSlotNotFound
		}
		if !req.Date.IsZero() && !startOfDay(req.Date).Equal(startOfDay(target.StartTime)) {
			return nil, ErrSlotDateMismatch
		}
		day = target.StartTime
	}

	if !doctor.WorksOn(day.Weekday()) {
		return nil, ErrNotWorkingDay
	}

	emergency := req.Category == CategoryEmergency

	var created *Token
	err = a.locker.WithLock(ctx, doctorDayKey(req.DoctorID, day), func(lockCtx context.Context) error {
		slot, scheduled, err := a.resolveTarget(lockCtx, doctor, day, req, target, emergency)
		if err != nil {
			return err
		}

		// Re-validated inside the critical section: between resolution
		// and here no other admission can have claimed the target. In
		// slot mode the store-side conditional increment is the guard;
		// in discrete mode the exact time-of-day must be free.
		if slot == nil {
			if emergency {
				count, err := a.repo.CountEmergenciesAt(lockCtx, doctor.ID, day, scheduled)
				if err != nil {
					return fmt.Errorf("count emergencies: %w", err)
				}
				if count >= a.cfg.OverflowAllowance {
					return ErrOverflowExhausted
				}
			} else {
				taken, err := a.repo.HasBookingAt(lockCtx, doctor.ID, day, scheduled)
				if err != nil {
					return fmt.Errorf("check booking: %w", err)
				}
				if taken {
					return ErrSlotTaken
				}
			}
		}

		existing, err := a.repo.CountTokensForDay(lockCtx, doctor.ID, day)
		if err != nil {
			return fmt.Errorf("count tokens: %w", err)
		}
		seq := existing + 1

		base := a.cfg.Weight(req.Category)
		tok := &Token{
			TokenID:         buildTokenID(doctor.ID, day, seq, a.now()),
			PatientName:     req.PatientName,
			Category:        req.Category,
			DoctorID:        doctor.ID,
			AppointmentDate: startOfDay(day),
			ScheduledTime:   scheduled,
			BasePriority:    base,
			FinalPriority:   base + float64(seq)*a.cfg.SequenceEpsilon,
		}

		var slotID *uuid.UUID
		if slot != nil {
			slotID = &slot.ID
		}

		created, err = a.repo.IssueToken(lockCtx, tok, slotID, emergency, a.cfg.OverflowAllowance)
		if err != nil {
			return err
		}

		a.logEvent(lockCtx, created.ID, EventTokenIssued, map[string]any{
			"token_id":       created.TokenID,
			"doctor_id":      doctor.ID.String(),
			"category":       string(created.Category),
			"scheduled_time": created.ScheduledTime,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrQueueBusy
		}
		return nil, err
	}

	return created, nil
}

// resolveTarget picks the slot and scheduled time the admission will land
// on. Capacity slots are used when the day has been initialized; otherwise
// the engine runs in discrete time-of-day mode against the doctor's
// availability window.
func (a *Allocator) resolveTarget(ctx context.Context, doctor *Doctor, day time.Time, req AdmitRequest, target *Slot, emergency bool) (*Slot, string, error) {
	if target != nil {
		scheduled := clockString(target.StartTime)
		if req.ScheduledTime != "" {
			min, err := parseClock(req.ScheduledTime)
			if err != nil {
				return nil, "", err
			}
			scheduled = minutesToClock(min)
		}
		return target, scheduled, nil
	}

	if req.ScheduledTime != "" {
		// Stored times are zero-padded HH:MM so exact-match taken checks
		// and lexicographic tie-breaks see "9:30" and "09:30" as one time.
		min, err := parseClock(req.ScheduledTime)
		if err != nil {
			return nil, "", err
		}
		scheduled := minutesToClock(min)
		at := startOfDay(day).Add(time.Duration(min) * time.Minute)
		slot, err := a.repo.FindSlotAt(ctx, doctor.ID, at)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				// No capacity slots for this day: discrete mode.
				return nil, scheduled, nil
			}
			return nil, "", err
		}
		return slot, scheduled, nil
	}

	slot, err := a.planner.FindAvailableSlot(ctx, doctor.ID, a.now(), emergency)
	if err != nil {
		return nil, "", err
	}
	return slot, clockString(slot.StartTime), nil
}

func (a *Allocator) logEvent(ctx context.Context, tokenID uuid.UUID, eventType string, payload map[string]any) {
	logRepoEvent(ctx, a.repo, tokenID, eventType, payload, a.now())
}

// buildTokenID produces the public human-readable identifier:
// DOC-<doctor suffix>-<MMDD>-<sequence>-<millis suffix>.
func buildTokenID(doctorID uuid.UUID, day time.Time, seq int, at time.Time) string {
	ds := doctorID.String()
	suffix := ds[len(ds)-3:]
	millis := strconv.FormatInt(at.UnixMilli(), 10)
	return fmt.Sprintf("DOC-%s-%s-%03d-%s", suffix, day.Format("0102"), seq, millis[len(millis)-4:])
}

func doctorDayKey(doctorID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("lock:doctor:%s:%s", doctorID, day.Format("2006-01-02"))
}

func startOfDay(t time.Time) time.Time {
	start, _ := dayBounds(t)
	return start
}
