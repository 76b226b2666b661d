package queue

import (
	"testing"
	"time"
)

func TestScoreEmergencyPinsToZero(t *testing.T) {
	cfg := DefaultPriorityConfig()

	for _, wait := range []int{0, 1, 60, 600, 100000} {
		if got := cfg.Score(CategoryEmergency, cfg.Weight(CategoryEmergency), wait); got != 0 {
			t.Fatalf("emergency score at wait=%d: got %v, want 0", wait, got)
		}
	}
}

func TestScoreNonIncreasingInWait(t *testing.T) {
	cfg := DefaultPriorityConfig()

	for _, cat := range []Category{CategoryPaid, CategoryOnline, CategoryWalkIn, CategoryFollowUp} {
		prev := cfg.Score(cat, cfg.Weight(cat), 0)
		for wait := 1; wait <= 200; wait++ {
			cur := cfg.Score(cat, cfg.Weight(cat), wait)
			if cur > prev {
				t.Fatalf("%s score increased from %v to %v at wait=%d", cat, prev, cur, wait)
			}
			if cur < 0 {
				t.Fatalf("%s score went negative at wait=%d: %v", cat, wait, cur)
			}
			prev = cur
		}
	}
}

func TestScoreFloorsAtZero(t *testing.T) {
	cfg := DefaultPriorityConfig()

	// Walk_in weight 30, aging 0.5: after 80 minutes the raw score would
	// be -10, so it floors at 0.
	if got := cfg.Score(CategoryWalkIn, 30, 80); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}

func TestAgedWalkInOvertakesFreshPaid(t *testing.T) {
	cfg := DefaultPriorityConfig()

	walkIn := cfg.Score(CategoryWalkIn, cfg.Weight(CategoryWalkIn), 80)
	paid := cfg.Score(CategoryPaid, cfg.Weight(CategoryPaid), 0)

	if walkIn != 0 {
		t.Fatalf("aged walk-in score: got %v, want 0", walkIn)
	}
	if paid != 10 {
		t.Fatalf("fresh paid score: got %v, want 10", paid)
	}
	if walkIn >= paid {
		t.Fatalf("aged walk-in (%v) should sort ahead of fresh paid (%v)", walkIn, paid)
	}
}

func TestRankTotalOrder(t *testing.T) {
	cfg := DefaultPriorityConfig()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	tokens := []Token{
		{TokenID: "T1", Category: CategoryFollowUp, BasePriority: 40, ScheduledTime: "10:00", CreatedAt: now.Add(-5 * time.Minute)},
		{TokenID: "T2", Category: CategoryEmergency, BasePriority: 0, ScheduledTime: "11:00", CreatedAt: now.Add(-1 * time.Minute)},
		{TokenID: "T3", Category: CategoryPaid, BasePriority: 10, ScheduledTime: "09:30", CreatedAt: now.Add(-2 * time.Minute)},
		// Same score and scheduled time as T5: earlier creation wins.
		{TokenID: "T4", Category: CategoryOnline, BasePriority: 20, ScheduledTime: "10:30", CreatedAt: now.Add(-601 * time.Second)},
		{TokenID: "T5", Category: CategoryOnline, BasePriority: 20, ScheduledTime: "10:30", CreatedAt: now.Add(-600 * time.Second)},
	}

	ranked := cfg.rank(tokens, now)

	got := make([]string, 0, len(ranked))
	for _, qt := range ranked {
		got = append(got, qt.TokenID)
	}

	want := []string{"T2", "T3", "T4", "T5", "T1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank order mismatch at %d: got %v, want %v", i, got, want)
		}
	}
}

func TestRankIdempotentUnderFixedClock(t *testing.T) {
	cfg := DefaultPriorityConfig()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	tokens := []Token{
		{TokenID: "A", Category: CategoryWalkIn, BasePriority: 30, ScheduledTime: "10:00", CreatedAt: now.Add(-90 * time.Minute)},
		{TokenID: "B", Category: CategoryPaid, BasePriority: 10, ScheduledTime: "10:00", CreatedAt: now},
		{TokenID: "C", Category: CategoryFollowUp, BasePriority: 40, ScheduledTime: "09:00", CreatedAt: now.Add(-30 * time.Minute)},
	}

	first := cfg.rank(tokens, now)
	second := cfg.rank(tokens, now)

	if len(first) != len(second) {
		t.Fatalf("rank length changed between calls")
	}
	for i := range first {
		if first[i].TokenID != second[i].TokenID || first[i].LiveScore != second[i].LiveScore {
			t.Fatalf("rank not idempotent at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestPriorityConfigValidate(t *testing.T) {
	cfg := DefaultPriorityConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	bad := DefaultPriorityConfig()
	bad.AgingFactor = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero aging factor should not validate")
	}

	missing := DefaultPriorityConfig()
	delete(missing.Weights, CategoryOnline)
	if err := missing.Validate(); err == nil {
		t.Fatal("missing category weight should not validate")
	}
}
