package queue

import (
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryEmergency Category = "Emergency"
	CategoryPaid      Category = "Paid"
	CategoryOnline    Category = "Online"
	CategoryWalkIn    Category = "Walk_in"
	CategoryFollowUp  Category = "Follow_up"
)

// Categories lists every patient category from most to least urgent.
var Categories = []Category{
	CategoryEmergency,
	CategoryPaid,
	CategoryOnline,
	CategoryWalkIn,
	CategoryFollowUp,
}

func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type TokenStatus string

const (
	StatusPending   TokenStatus = "Pending"
	StatusActive    TokenStatus = "Active"
	StatusCompleted TokenStatus = "Completed"
	StatusCancelled TokenStatus = "Cancelled"
	StatusNoShow    TokenStatus = "No_Show"
)

func (s TokenStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// ActiveStatuses are the non-terminal statuses that occupy queue positions
// and slot seats.
var ActiveStatuses = []TokenStatus{StatusPending, StatusActive}

type Doctor struct {
	ID                   uuid.UUID
	Name                 string
	Specialty            *string
	ConsultationDuration int // minutes per patient
	WorkingDays          []time.Weekday
	DayStart             string // HH:MM
	DayEnd               string // HH:MM
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (d *Doctor) WorksOn(day time.Weekday) bool {
	for _, wd := range d.WorkingDays {
		if wd == day {
			return true
		}
	}
	return false
}

// Slot is one bounded-capacity unit of a doctor's day. CurrentCount may
// exceed MaxCapacity only through the emergency overflow carve-out, which is
// tracked separately in EmergencyCount.
type Slot struct {
	ID             uuid.UUID
	DoctorID       uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	MaxCapacity    int
	CurrentCount   int
	EmergencyCount int
	IsFull         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Token struct {
	ID              uuid.UUID
	TokenID         string // human-readable public identifier
	PatientName     string
	Category        Category
	DoctorID        uuid.UUID
	SlotID          *uuid.UUID
	AppointmentDate time.Time
	ScheduledTime   string // HH:MM
	BasePriority    float64
	// FinalPriority is the creation-time score (base + arrival-sequence
	// epsilon). It is a historical artifact; live ordering is always
	// recomputed from BasePriority and accrued wait.
	FinalPriority float64
	Status        TokenStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ResolvedAt    *time.Time
}

// QueuedToken is a Token annotated with its live queue position inputs.
type QueuedToken struct {
	Token
	WaitMinutes int
	LiveScore   float64
}

// QueueSnapshot is the composed view of one doctor's queue for one day.
type QueueSnapshot struct {
	Doctor   *Doctor
	Date     time.Time
	Current  *QueuedToken // token being served right now
	Next     *QueuedToken // first upcoming pending token
	Waiting  []QueuedToken
	Upcoming []QueuedToken
	Total    int
}

type TimeAvailability struct {
	Time      string
	Available bool
	Past      bool
}

// DayAvailability reports the discrete bookable times for a doctor's day.
// A non-working day is a normal outcome, not an error: IsWorkingDay is
// false and Times is empty.
type DayAvailability struct {
	Doctor       *Doctor
	Date         time.Time
	IsWorkingDay bool
	IsToday      bool
	Times        []TimeAvailability
	BookedCount  int
}

func (a *DayAvailability) AvailableCount() int {
	n := 0
	for _, t := range a.Times {
		if t.Available {
			n++
		}
	}
	return n
}

type EventLog struct {
	ID        int64
	EventType string
	TokenID   *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
