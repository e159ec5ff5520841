package sequence

import (
	"fmt"
	"sort"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
)

// Stepping decides which step follows the current one.
type Stepping string

const (
	// StrictSequential only considers the active step numbered current+1.
	// A missing or inactive step at that number ends the sequence.
	StrictSequential Stepping = "strict"
	// SkipGaps takes the lowest-numbered active step above the current one.
	SkipGaps Stepping = "skip_gaps"
)

// ParseStepping maps a config value onto a Stepping. Empty selects
// StrictSequential.
func ParseStepping(s string) (Stepping, error) {
	switch Stepping(s) {
	case "", StrictSequential:
		return StrictSequential, nil
	case SkipGaps:
		return SkipGaps, nil
	default:
		return "", fmt.Errorf("unknown stepping policy %q", s)
	}
}

// Next returns the step that follows current, or nil when the sequence is
// exhausted under this policy.
func (p Stepping) Next(steps []domain.Step, current int) *domain.Step {
	if p == SkipGaps {
		var best *domain.Step
		for i := range steps {
			s := &steps[i]
			if !s.IsActive || s.StepNumber <= current {
				continue
			}
			if best == nil || s.StepNumber < best.StepNumber {
				best = s
			}
		}
		return best
	}

	for i := range steps {
		if steps[i].IsActive && steps[i].StepNumber == current+1 {
			return &steps[i]
		}
	}
	return nil
}

// Outcome describes what an advancement did.
type Outcome struct {
	// Step is the step the enrollment now waits on. Nil when Completed.
	Step      *domain.Step
	Completed bool
}

// Advance moves e past its current step. When a following step exists the
// enrollment waits on it with a freshly computed send time; otherwise the
// enrollment completes. A computed time earlier than EnrolledAt is stored as
// nil (ready now). loc is the campaign's timezone.
func Advance(e *domain.Enrollment, steps []domain.Step, policy Stepping, now time.Time, loc *time.Location) (Outcome, error) {
	next := policy.Next(steps, e.CurrentStep)
	if next == nil {
		if err := e.Complete(now); err != nil {
			return Outcome{}, err
		}
		return Outcome{Completed: true}, nil
	}

	// A time of day pinned before the enrollment itself can never be a
	// real schedule; the step is due immediately instead.
	var nextSendAt *time.Time
	if at := NextSendTime(now.In(loc), *next); !at.Before(e.EnrolledAt) {
		nextSendAt = &at
	}
	if err := e.MoveToStep(next.StepNumber, nextSendAt, now); err != nil {
		return Outcome{}, err
	}
	return Outcome{Step: next}, nil
}

// Activate starts a freshly enrolled recipient and positions it on the first
// step. A first step whose computed send time is not after now leaves
// NextSendAt nil so the enrollment is picked up on the next poll. With no
// first step the enrollment completes immediately.
func Activate(e *domain.Enrollment, steps []domain.Step, policy Stepping, now time.Time, loc *time.Location) (Outcome, error) {
	if err := e.Start(now); err != nil {
		return Outcome{}, err
	}

	first := policy.Next(steps, 0)
	if first == nil {
		if err := e.Complete(now); err != nil {
			return Outcome{}, err
		}
		return Outcome{Completed: true}, nil
	}

	var nextSendAt *time.Time
	if at := NextSendTime(now.In(loc), *first); at.After(now) {
		nextSendAt = &at
	}
	if err := e.MoveToStep(first.StepNumber, nextSendAt, now); err != nil {
		return Outcome{}, err
	}
	return Outcome{Step: first}, nil
}

// SortSteps orders steps by step number in place.
func SortSteps(steps []domain.Step) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })
}
