package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound = errors.New("doctor not found")
	ErrSlotNotFound   = errors.New("slot not found")
	ErrTokenNotFound  = errors.New("token not found")

	ErrNotWorkingDay = errors.New("doctor does not work on this day")

	ErrSlotFull          = errors.New("slot capacity exhausted")
	ErrOverflowExhausted = errors.New("emergency overflow allowance exhausted")
	ErrSlotTaken         = errors.New("requested time is already booked")
	ErrSlotsExist        = errors.New("slots already initialized for this day")
	ErrSlotDateMismatch  = errors.New("requested date does not match the slot's day")

	ErrAlreadyTerminal   = errors.New("token is already in a terminal state")
	ErrInvalidTransition = errors.New("invalid token status transition")
	ErrInvalidCategory   = errors.New("unknown patient category")
)

// Repository contains all store interactions needed by the engine. The
// conditional mutators (IssueToken, UpdateTokenStatus) are atomic at the
// store level: they either apply fully under their stated guard or report a
// typed rejection with no partial state.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	CreateDoctor(ctx context.Context, d *Doctor) (*Doctor, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	FindSlotsForDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, error)
	// FindSlotAt returns the slot whose window contains the instant, or
	// ErrSlotNotFound.
	FindSlotAt(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Slot, error)
	// FindNextSlot returns the earliest slot starting after the instant.
	// When includeFull is false, full slots are skipped.
	FindNextSlot(ctx context.Context, doctorID uuid.UUID, after time.Time, includeFull bool) (*Slot, error)
	CreateSlots(ctx context.Context, slots []Slot) ([]Slot, error)
	// ReleaseSeat applies the offsetting decrement when a seated token is
	// cancelled or marked no-show.
	ReleaseSeat(ctx context.Context, slotID uuid.UUID, emergency bool) error

	GetTokenByID(ctx context.Context, id uuid.UUID) (*Token, error)
	GetTokenByPublicID(ctx context.Context, tokenID string) (*Token, error)
	FindTokensForDay(ctx context.Context, doctorID uuid.UUID, day time.Time, statuses []TokenStatus) ([]Token, error)
	CountTokensForDay(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
	// HasBookingAt reports whether a non-terminal token already holds the
	// exact scheduled time within the day.
	HasBookingAt(ctx context.Context, doctorID uuid.UUID, day time.Time, scheduled string) (bool, error)
	// CountEmergenciesAt counts non-terminal emergency tokens at the exact
	// scheduled time, for overflow bounding in discrete mode.
	CountEmergenciesAt(ctx context.Context, doctorID uuid.UUID, day time.Time, scheduled string) (int, error)

	// IssueToken inserts the token and, when slotID is set, increments the
	// slot's seat counter in the same transaction. The increment is
	// conditional: non-emergency admissions fail with ErrSlotFull at
	// capacity, emergency admissions fail with ErrOverflowExhausted past
	// the allowance.
	IssueToken(ctx context.Context, tok *Token, slotID *uuid.UUID, emergency bool, allowance int) (*Token, error)
	// UpdateTokenStatus is a compare-and-swap: it applies only if the
	// current status equals from, otherwise ErrTokenNotFound.
	UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to TokenStatus, resolvedAt *time.Time) (*Token, error)
	// ForceTokenStatus applies a status unconditionally (administrative
	// override).
	ForceTokenStatus(ctx context.Context, id uuid.UUID, to TokenStatus, resolvedAt *time.Time) (*Token, error)
	// FindOverdueScheduled returns pending tokens whose scheduled start
	// lies before the cutoff instant.
	FindOverdueScheduled(ctx context.Context, cutoff time.Time) ([]Token, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
