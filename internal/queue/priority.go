package queue

import (
	"fmt"
	"sort"
	"time"
)

// PriorityConfig carries the process-wide scoring constants. It is passed
// explicitly into the engine components so tests can vary it.
type PriorityConfig struct {
	// Weights maps each category to its base priority. Lower is more
	// urgent. Weights must be spaced widely enough that the arrival
	// sequence epsilon never pushes one category into another's range.
	Weights map[Category]float64
	// AgingFactor is how many score points one minute of waiting removes
	// from a non-emergency token.
	AgingFactor float64
	// SequenceEpsilon is the per-arrival increment folded into the stored
	// creation-time score as a deterministic tie-break.
	SequenceEpsilon float64
	// OverflowAllowance is the number of emergency admissions a slot or
	// window accepts beyond its normal capacity.
	OverflowAllowance int
}

// DefaultPriorityConfig mirrors the production weight table.
func DefaultPriorityConfig() PriorityConfig {
	return PriorityConfig{
		Weights: map[Category]float64{
			CategoryEmergency: 0,
			CategoryPaid:      10,
			CategoryOnline:    20,
			CategoryWalkIn:    30,
			CategoryFollowUp:  40,
		},
		AgingFactor:       0.5,
		SequenceEpsilon:   0.01,
		OverflowAllowance: 2,
	}
}

func (c PriorityConfig) Validate() error {
	if c.AgingFactor <= 0 {
		return fmt.Errorf("aging factor must be positive, got %v", c.AgingFactor)
	}
	if c.SequenceEpsilon <= 0 {
		return fmt.Errorf("sequence epsilon must be positive, got %v", c.SequenceEpsilon)
	}
	if c.OverflowAllowance < 0 {
		return fmt.Errorf("overflow allowance must be non-negative, got %d", c.OverflowAllowance)
	}
	for _, cat := range Categories {
		if _, ok := c.Weights[cat]; !ok {
			return fmt.Errorf("missing weight for category %s", cat)
		}
	}
	return nil
}

func (c PriorityConfig) Weight(cat Category) float64 {
	return c.Weights[cat]
}

// Score computes the live ordering score for one token. Lower means more
// urgent. Emergencies always pin to zero so aging of other categories can
// never out-prioritize them; every other category decays linearly with wait
// and floors at zero.
func (c PriorityConfig) Score(cat Category, baseWeight float64, waitMinutes int) float64 {
	if cat == CategoryEmergency {
		return 0
	}
	s := baseWeight - float64(waitMinutes)*c.AgingFactor
	if s < 0 {
		return 0
	}
	return s
}

// rank annotates tokens with wait minutes and live scores and sorts them by
// (live score, scheduled time, creation time). The three-level tie-break
// makes the ordering a deterministic total order.
func (c PriorityConfig) rank(tokens []Token, now time.Time) []QueuedToken {
	ranked := make([]QueuedToken, 0, len(tokens))
	for _, tok := range tokens {
		wait := int(now.Sub(tok.CreatedAt) / time.Minute)
		if wait < 0 {
			wait = 0
		}
		ranked = append(ranked, QueuedToken{
			Token:       tok,
			WaitMinutes: wait,
			LiveScore:   c.Score(tok.Category, tok.BasePriority, wait),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.LiveScore != b.LiveScore {
			return a.LiveScore < b.LiveScore
		}
		if a.ScheduledTime != b.ScheduledTime {
			return a.ScheduledTime < b.ScheduledTime
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	return ranked
}
