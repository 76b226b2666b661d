package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/slotsaarthi/opd-token-engine/internal/redis"
)

// transitions lists the patient-facing legal moves. Anything else goes
// through ForceStatus, which is an explicit administrative override.
var transitions = map[TokenStatus][]TokenStatus{
	StatusPending: {StatusActive, StatusCancelled, StatusNoShow},
	StatusActive:  {StatusCompleted},
}

func legalTransition(from, to TokenStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CallNextResult reports the outcome of one queue advancement. QueueEmpty is
// a normal outcome, not an error: the doctor simply has nobody waiting.
type CallNextResult struct {
	Completed  *Token
	Called     *Token
	QueueEmpty bool
}

// Lifecycle governs token status changes. Promotion runs under the same
// per-doctor-per-day lock as admission so two concurrent callNext calls can
// never both produce an Active token.
type Lifecycle struct {
	repo   Repository
	locker redisclient.Locker
	cfg    PriorityConfig
	now    func() time.Time
}

func NewLifecycle(repo Repository, locker redisclient.Locker, cfg PriorityConfig) *Lifecycle {
	return &Lifecycle{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Cancel moves a pending token to Cancelled and releases its seat.
func (l *Lifecycle) Cancel(ctx context.Context, tokenID string) (*Token, error) {
	return l.resolve(ctx, tokenID, StatusCancelled, EventTokenCancelled)
}

// MarkNoShow moves a pending token to No_Show. Same guards as Cancel, kept
// as a distinct terminal status for reporting.
func (l *Lifecycle) MarkNoShow(ctx context.Context, tokenID string) (*Token, error) {
	return l.resolve(ctx, tokenID, StatusNoShow, EventTokenNoShow)
}

func (l *Lifecycle) resolve(ctx context.Context, tokenID string, terminal TokenStatus, event string) (*Token, error) {
	tok, err := l.repo.GetTokenByPublicID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load token: %w", err)
	}

	if tok.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	if tok.Status == StatusActive {
		// In-service tokens are resolved by completion or an
		// administrative override only.
		return nil, ErrInvalidTransition
	}

	at := l.now()
	updated, err := l.repo.UpdateTokenStatus(ctx, tok.ID, StatusPending, terminal, &at)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			// Lost a race with a concurrent transition; the guard no
			// longer holds.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update token status: %w", err)
	}

	if updated.SlotID != nil {
		if err := l.repo.ReleaseSeat(ctx, *updated.SlotID, updated.Category == CategoryEmergency); err != nil {
			return nil, err
		}
	}

	l.logEvent(ctx, updated.ID, event, map[string]any{
		"token_id": updated.TokenID,
		"status":   string(updated.Status),
	})

	return updated, nil
}

// CallNext completes the currently Active token for the doctor's day, then
// promotes the pending token with the lowest live score to Active.
func (l *Lifecycle) CallNext(ctx context.Context, doctorID uuid.UUID, day time.Time) (*CallNextResult, error) {
	if day.IsZero() {
		day = l.now()
	}

	if _, err := l.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	var result CallNextResult
	err := l.locker.WithLock(ctx, doctorDayKey(doctorID, day), func(lockCtx context.Context) error {
		pending, err := l.repo.FindTokensForDay(lockCtx, doctorID, day, []TokenStatus{StatusPending})
		if err != nil {
			return fmt.Errorf("load pending tokens: %w", err)
		}
		if len(pending) == 0 {
			// Nobody to promote: the token in service, if any, keeps
			// being served.
			result.QueueEmpty = true
			return nil
		}

		actives, err := l.repo.FindTokensForDay(lockCtx, doctorID, day, []TokenStatus{StatusActive})
		if err != nil {
			return fmt.Errorf("load active token: %w", err)
		}

		for _, active := range actives {
			at := l.now()
			done, err := l.repo.UpdateTokenStatus(lockCtx, active.ID, StatusActive, StatusCompleted, &at)
			if err != nil {
				if errors.Is(err, ErrTokenNotFound) {
					continue
				}
				return fmt.Errorf("complete active token: %w", err)
			}
			result.Completed = done
		}

		ranked := l.cfg.rank(pending, l.now())
		for _, cand := range ranked {
			promoted, err := l.repo.UpdateTokenStatus(lockCtx, cand.ID, StatusPending, StatusActive, nil)
			if err != nil {
				if errors.Is(err, ErrTokenNotFound) {
					// Concurrently cancelled; try the next one.
					continue
				}
				return fmt.Errorf("promote token: %w", err)
			}
			result.Called = promoted
			l.logEvent(lockCtx, promoted.ID, EventTokenCalled, map[string]any{
				"token_id": promoted.TokenID,
			})
			return nil
		}

		result.QueueEmpty = true
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrQueueBusy
		}
		return nil, err
	}

	return &result, nil
}

// ForceStatus is the administrative override: it bypasses the transition
// guards but still refuses statuses outside the known set.
func (l *Lifecycle) ForceStatus(ctx context.Context, tokenID string, status TokenStatus) (*Token, error) {
	switch status {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled, StatusNoShow:
	default:
		return nil, ErrInvalidTransition
	}

	tok, err := l.repo.GetTokenByPublicID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load token: %w", err)
	}

	var resolvedAt *time.Time
	if status.Terminal() {
		at := l.now()
		resolvedAt = &at
	}

	updated, err := l.repo.ForceTokenStatus(ctx, tok.ID, status, resolvedAt)
	if err != nil {
		return nil, fmt.Errorf("force token status: %w", err)
	}

	l.logEvent(ctx, updated.ID, EventTokenOverridden, map[string]any{
		"token_id": updated.TokenID,
		"from":     string(tok.Status),
		"to":       string(status),
	})

	return updated, nil
}

// Transition applies a guarded patient-facing status change by name. It is
// the generic entry point behind Cancel/MarkNoShow for callers that carry
// the target status as data.
func (l *Lifecycle) Transition(ctx context.Context, tokenID string, to TokenStatus) (*Token, error) {
	switch to {
	case StatusCancelled:
		return l.Cancel(ctx, tokenID)
	case StatusNoShow:
		return l.MarkNoShow(ctx, tokenID)
	default:
	}

	tok, err := l.repo.GetTokenByPublicID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load token: %w", err)
	}

	if tok.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	if !legalTransition(tok.Status, to) {
		return nil, ErrInvalidTransition
	}

	var resolvedAt *time.Time
	if to.Terminal() {
		at := l.now()
		resolvedAt = &at
	}

	updated, err := l.repo.UpdateTokenStatus(ctx, tok.ID, tok.Status, to, resolvedAt)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update token status: %w", err)
	}
	return updated, nil
}

// SweepNoShows marks pending tokens whose scheduled start passed more than
// grace ago as No_Show. Intended for the periodic worker.
func (l *Lifecycle) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := l.now().Add(-grace)
	overdue, err := l.repo.FindOverdueScheduled(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find overdue tokens: %w", err)
	}

	swept := 0
	for _, tok := range overdue {
		if _, err := l.MarkNoShow(ctx, tok.TokenID); err != nil {
			if errors.Is(err, ErrAlreadyTerminal) || errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

func (l *Lifecycle) logEvent(ctx context.Context, tokenID uuid.UUID, eventType string, payload map[string]any) {
	logRepoEvent(ctx, l.repo, tokenID, eventType, payload, l.now())
}
