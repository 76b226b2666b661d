package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Composer derives the live ordering of a doctor's queue. It never mutates
// anything, so it is safe to call at polling frequency.
type Composer struct {
	repo Repository
	cfg  PriorityConfig
	now  func() time.Time
}

func NewComposer(repo Repository, cfg PriorityConfig) *Composer {
	return &Composer{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
	}
}

func (c *Composer) Compose(ctx context.Context, doctorID uuid.UUID, day time.Time) (*QueueSnapshot, error) {
	now := c.now()
	if day.IsZero() {
		day = now
	}

	doctor, err := c.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	tokens, err := c.repo.FindTokensForDay(ctx, doctorID, day, ActiveStatuses)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}

	ranked := c.cfg.rank(tokens, now)

	snapshot := &QueueSnapshot{
		Doctor: doctor,
		Date:   startOfDay(day),
		Total:  len(tokens),
	}

	nowClock := clockString(now)
	for i := range ranked {
		qt := ranked[i]
		switch qt.Status {
		case StatusActive:
			if snapshot.Current == nil {
				snapshot.Current = &ranked[i]
			}
		case StatusPending:
			snapshot.Waiting = append(snapshot.Waiting, qt)
			if qt.ScheduledTime >= nowClock {
				snapshot.Upcoming = append(snapshot.Upcoming, qt)
			}
		}
	}

	if len(snapshot.Waiting) > 0 {
		snapshot.Next = &snapshot.Waiting[0]
	}

	return snapshot, nil
}
