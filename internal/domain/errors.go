package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is the sentinel wrapped by every TransitionError.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError reports a state change that the current status forbids.
// It names the entity, the attempted action and the status that blocked it.
type TransitionError struct {
	Entity string
	Action string
	Status string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s: status is %s", e.Action, e.Entity, e.Status)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func enrollmentTransitionError(action string, status EnrollmentStatus) error {
	return &TransitionError{Entity: "enrollment", Action: action, Status: string(status)}
}

func campaignTransitionError(action string, status CampaignStatus) error {
	return &TransitionError{Entity: "campaign", Action: action, Status: string(status)}
}
