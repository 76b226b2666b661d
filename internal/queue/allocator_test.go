package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(repo *memRepo) *Allocator {
	cfg := DefaultPriorityConfig()
	planner := NewPlanner(repo, DefaultPlannerConfig())
	return NewAllocator(repo, newMemLocker(), cfg, planner)
}

func TestAdmitUnknownDoctor(t *testing.T) {
	repo := newMemRepo()
	alloc := newTestAllocator(repo)

	_, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:    uuid.New(),
		PatientName: "Nikhil",
		Category:    CategoryOnline,
	})
	if !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("got %v, want ErrDoctorNotFound", err)
	}
}

func TestAdmitInvalidCategory(t *testing.T) {
	repo := newMemRepo()
	doctor := repo.addDoctor(testDoctor())
	alloc := newTestAllocator(repo)

	_, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:    doctor.ID,
		PatientName: "Nikhil",
		Category:    Category("VIP"),
	})
	if !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("got %v, want ErrInvalidCategory", err)
	}
}

func TestAdmitOutsideWorkingDays(t *testing.T) {
	repo := newMemRepo()
	d := testDoctor()
	d.WorkingDays = []time.Weekday{time.Monday}
	doctor := repo.addDoctor(d)
	alloc := newTestAllocator(repo)

	// 2025-06-03 is a Tuesday.
	_, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:      doctor.ID,
		PatientName:   "Meera",
		Category:      CategoryOnline,
		Date:          time.Date(2025, 6, 3, 0, 0, 0, 0, time.Local),
		ScheduledTime: "10:00",
	})
	if !errors.Is(err, ErrNotWorkingDay) {
		t.Fatalf("got %v, want ErrNotWorkingDay", err)
	}
}

func TestAdmitSlotCapacityExhaustion(t *testing.T) {
	repo := newMemRepo()
	doctor := repo.addDoctor(testDoctor())
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)
	slot := repo.addSlot(Slot{
		DoctorID:    doctor.ID,
		StartTime:   day.Add(10 * time.Hour),
		EndTime:     day.Add(11 * time.Hour),
		MaxCapacity: 3,
	})
	alloc := newTestAllocator(repo)

	for i := 0; i < 3; i++ {
		_, err := alloc.Admit(context.Background(), AdmitRequest{
			DoctorID:    doctor.ID,
			PatientName: "Patient",
			Category:    CategoryOnline,
			Date:        day,
			SlotID:      &slot.ID,
		})
		require.NoError(t, err, "admission %d should fit", i+1)
	}

	_, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:    doctor.ID,
		PatientName: "Patient",
		Category:    CategoryOnline,
		Date:        day,
		SlotID:      &slot.ID,
	})
	require.ErrorIs(t, err, ErrSlotFull)

	stored, err := repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	require.Equal(t, 3, stored.CurrentCount)
	require.True(t, stored.IsFull)
}

func TestAdmitConcurrentNeverOverAdmits(t *testing.T) {
	repo := newMemRepo()
	doctor := repo.addDoctor(testDoctor())
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)
	const capacity = 5
	slot := repo.addSlot(Slot{
		DoctorID:    doctor.ID,
		StartTime:   day.Add(10 * time.Hour),
		EndTime:     day.Add(11 * time.Hour),
		MaxCapacity: capacity,
	})
	alloc := newTestAllocator(repo)

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := alloc.Admit(context.Background(), AdmitRequest{
				DoctorID:    doctor.ID,
				PatientName: "Patient",
				Category:    CategoryOnline,
				Date:        day,
				SlotID:      &slot.ID,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, full := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSlotFull):
			full++
		default:
			t.Fatalf("unexpected admission error: %v", err)
		}
	}

	if succeeded != capacity {
		t.Fatalf("succeeded=%d, want exactly %d", succeeded, capacity)
	}
	if full != attempts-capacity {
		t.Fatalf("rejected=%d, want %d", full, attempts-capacity)
	}

	stored, err := repo.GetSlotByID(context.Background(), slot.ID)
	if err != nil {
		t.Fatalf("load slot: %v", err)
	}
	if stored.CurrentCount != capacity {
		t.Fatalf("occupancy=%d, want %d", stored.CurrentCount, capacity)
	}
}

func TestAdmitEmergencyOverflow(t *testing.T) {
	repo := newMemRepo()
	doctor := repo.addDoctor(testDoctor())
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)
	slot := repo.addSlot(Slot{
		DoctorID:     doctor.ID,
		StartTime:    day.Add(10 * time.Hour),
		EndTime:      day.Add(11 * time.Hour),
		MaxCapacity:  1,
		CurrentCount: 1, // already full
	})
	alloc := newTestAllocator(repo) // allowance 2

	for i := 0; i < 2; i++ {
		_, err := alloc.Admit(context.Background(), AdmitRequest{
			DoctorID:    doctor.ID,
			PatientName: "Critical",
			Category:    CategoryEmergency,
			Date:        day,
			SlotID:      &slot.ID,
		})
		require.NoError(t, err, "emergency %d should pass the fullness check", i+1)
	}

	_, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:    doctor.ID,
		PatientName: "Critical",
		Category:    CategoryEmergency,
		Date:        day,
		SlotID:      &slot.ID,
	})
	require.ErrorIs(t, err, ErrOverflowExhausted)

	// And a normal booking is still refused.
	_, err = alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:    doctor.ID,
		PatientName: "Routine",
		Category:    CategoryOnline,
		Date:        day,
		SlotID:      &slot.ID,
	})
	require.ErrorIs(t, err, ErrSlotFull)
}

func TestAdmitDiscreteTimeTaken(t *testing.T) {
	repo := newMemRepo()
	doctor := repo.addDoctor(testDoctor())
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)
	alloc := newTestAllocator(repo)

	first, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:      doctor.ID,
		PatientName:   "Meera",
		Category:      CategoryOnline,
		Date:          day,
		ScheduledTime: "10:30",
	})
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if first.ScheduledTime != "10:30" {
		t.Fatalf("scheduled time: got %s", first.ScheduledTime)
	}

	_, err = alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:      doctor.ID,
		PatientName:   "Nikhil",
		Category:      CategoryWalkIn,
		Date:          day,
		ScheduledTime: "10:30",
	})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("got %v, want ErrSlotTaken", err)
	}

	// A different time is still free.
	_, err = alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:      doctor.ID,
		PatientName:   "Nikhil",
		Category:      CategoryWalkIn,
		Date:          day,
		ScheduledTime: "11:00",
	})
	if err != nil {
		t.Fatalf("second time: %v", err)
	}
}

func TestAdmitDiscreteEmergencyBypassesTakenCheck(t *testing.T) {
	repo := newMemRepo()
	doctor := repo.addDoctor(testDoctor())
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)
	alloc := newTestAllocator(repo) // allowance 2

	_, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:      doctor.ID,
		PatientName:   "Meera",
		Category:      CategoryOnline,
		Date:          day,
		ScheduledTime: "10:30",
	})
	if err != nil {
		t.Fatalf("normal booking: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err = alloc.Admit(context.Background(), AdmitRequest{
			DoctorID:      doctor.ID,
			PatientName:   "Critical",
			Category:      CategoryEmergency,
			Date:          day,
			ScheduledTime: "10:30",
		})
		if err != nil {
			t.Fatalf("emergency %d: %v", i+1, err)
		}
	}

	_, err = alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:      doctor.ID,
		PatientName:   "Critical",
		Category:      CategoryEmergency,
		Date:          day,
		ScheduledTime: "10:30",
	})
	if !errors.Is(err, ErrOverflowExhausted) {
		t.Fatalf("got %v, want ErrOverflowExhausted", err)
	}
}

func TestAdmitNormalizesScheduledTime(t *testing.T) {
	repo := newMemRepo()
	doctor := repo.addDoctor(testDoctor())
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)
	alloc := newTestAllocator(repo)

	tok, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:      doctor.ID,
		PatientName:   "Ravi",
		Category:      CategoryOnline,
		Date:          day,
		ScheduledTime: "9:30",
	})
	require.NoError(t, err)
	require.Equal(t, "09:30", tok.ScheduledTime)

	// The padded spelling of the same wall-clock time is the same booking.
	_, err = alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:      doctor.ID,
		PatientName:   "Sunita",
		Category:      CategoryWalkIn,
		Date:          day,
		ScheduledTime: "09:30",
	})
	require.ErrorIs(t, err, ErrSlotTaken)

	_, err = alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:      doctor.ID,
		PatientName:   "Sunita",
		Category:      CategoryWalkIn,
		Date:          day,
		ScheduledTime: "09:30pm",
	})
	require.Error(t, err)
}

func TestAdmitSlotAnchorsDayToSlot(t *testing.T) {
	repo := newMemRepo()
	doctor := repo.addDoctor(testDoctor())
	today := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)
	tomorrow := today.AddDate(0, 0, 1)
	slot := repo.addSlot(Slot{
		DoctorID:    doctor.ID,
		StartTime:   tomorrow.Add(10 * time.Hour),
		EndTime:     tomorrow.Add(11 * time.Hour),
		MaxCapacity: 5,
	})

	cfg := DefaultPriorityConfig()
	planner := NewPlanner(repo, DefaultPlannerConfig())
	alloc := NewAllocator(repo, newMemLocker(), cfg, planner)
	alloc.now = fixedClock(today.Add(9 * time.Hour))

	// No date given: the booking lands on the slot's day, not today.
	tok, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:    doctor.ID,
		PatientName: "Kiran",
		Category:    CategoryOnline,
		SlotID:      &slot.ID,
	})
	require.NoError(t, err)
	require.Equal(t, startOfDay(tomorrow), tok.AppointmentDate)

	stored, err := repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.CurrentCount)

	composer := NewComposer(repo, cfg)
	composer.now = fixedClock(tomorrow.Add(10 * time.Hour))
	snap, err := composer.Compose(context.Background(), doctor.ID, tomorrow)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Total)
	require.Len(t, snap.Waiting, 1)
	require.Equal(t, tok.TokenID, snap.Waiting[0].TokenID)

	// A date that contradicts the slot's day is refused outright.
	_, err = alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:    doctor.ID,
		PatientName: "Kiran",
		Category:    CategoryOnline,
		Date:        today,
		SlotID:      &slot.ID,
	})
	require.ErrorIs(t, err, ErrSlotDateMismatch)
}

func TestEmergencySharesLastSeatWithWalkIn(t *testing.T) {
	repo := newMemRepo()
	doctor := repo.addDoctor(testDoctor())
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)
	slot := repo.addSlot(Slot{
		DoctorID:    doctor.ID,
		StartTime:   day.Add(10 * time.Hour),
		EndTime:     day.Add(11 * time.Hour),
		MaxCapacity: 1,
	})

	cfg := DefaultPriorityConfig()
	cfg.OverflowAllowance = 1
	planner := NewPlanner(repo, DefaultPlannerConfig())
	alloc := NewAllocator(repo, newMemLocker(), cfg, planner)

	walkIn, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:    doctor.ID,
		PatientName: "Nikhil",
		Category:    CategoryWalkIn,
		Date:        day,
		SlotID:      &slot.ID,
	})
	require.NoError(t, err)

	crit, err := alloc.Admit(context.Background(), AdmitRequest{
		DoctorID:    doctor.ID,
		PatientName: "Critical",
		Category:    CategoryEmergency,
		Date:        day,
		SlotID:      &slot.ID,
	})
	require.NoError(t, err, "emergency must fit via the overflow carve-out")

	// Regardless of arrival order, the emergency heads the queue.
	composer := NewComposer(repo, cfg)
	composer.now = fixedClock(day.Add(10 * time.Hour))
	snap, err := composer.Compose(context.Background(), doctor.ID, day)
	require.NoError(t, err)
	require.Len(t, snap.Waiting, 2)
	require.Equal(t, crit.TokenID, snap.Waiting[0].TokenID)
	require.Equal(t, walkIn.TokenID, snap.Waiting[1].TokenID)
}

func TestAdmitArrivalSequenceAndTokenID(t *testing.T) {
	repo := newMemRepo()
	doctor := repo.addDoctor(testDoctor())
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)
	alloc := newTestAllocator(repo)
	cfg := DefaultPriorityConfig()

	times := []string{"09:00", "09:30", "10:00"}
	for i, at := range times {
		tok, err := alloc.Admit(context.Background(), AdmitRequest{
			DoctorID:      doctor.ID,
			PatientName:   "Patient",
			Category:      CategoryOnline,
			Date:          day,
			ScheduledTime: at,
		})
		if err != nil {
			t.Fatalf("booking %d: %v", i+1, err)
		}

		seq := i + 1
		wantFinal := cfg.Weight(CategoryOnline) + float64(seq)*cfg.SequenceEpsilon
		if tok.FinalPriority != wantFinal {
			t.Fatalf("booking %d final priority: got %v, want %v", seq, tok.FinalPriority, wantFinal)
		}
		if !strings.HasPrefix(tok.TokenID, "DOC-") {
			t.Fatalf("token id %q missing prefix", tok.TokenID)
		}
		if !strings.Contains(tok.TokenID, day.Format("0102")) {
			t.Fatalf("token id %q missing date code", tok.TokenID)
		}
	}
}
