package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
)

var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) // Monday

func newEnrollment() *domain.Enrollment {
	return domain.NewEnrollment("enr-1", "camp-1", domain.LeadRecipient("lead-42"), t0)
}

func TestStartOnlyFromFreshEnrollment(t *testing.T) {
	e := newEnrollment()
	if err := e.Start(t0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if e.Status != domain.EnrollmentActive || e.CurrentStep != 1 || e.NextSendAt != nil {
		t.Fatalf("unexpected state after start: status=%s step=%d next=%v", e.Status, e.CurrentStep, e.NextSendAt)
	}
	if e.LastActivityAt == nil || !e.LastActivityAt.Equal(t0) {
		t.Fatalf("expected last activity %v, got %v", t0, e.LastActivityAt)
	}

	// Progressed enrollment must not be reset.
	next := t0.Add(time.Hour)
	if err := e.MoveToStep(3, &next, t0); err != nil {
		t.Fatalf("move: %v", err)
	}
	err := e.Start(t0.Add(time.Minute))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if e.CurrentStep != 3 || !e.NextSendAt.Equal(next) {
		t.Fatalf("start must not reset progress, got step=%d next=%v", e.CurrentStep, e.NextSendAt)
	}
}

func TestPauseResumePreservesSchedule(t *testing.T) {
	e := newEnrollment()
	_ = e.Start(t0)
	next := t0.Add(48 * time.Hour)
	_ = e.MoveToStep(2, &next, t0)

	if err := e.Pause(t0.Add(time.Hour)); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if e.IsReadyForNextEmail(next.Add(time.Hour)) {
		t.Fatal("paused enrollment must never be ready")
	}
	if err := e.Resume(t0.Add(2 * time.Hour)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if e.Status != domain.EnrollmentActive || e.CurrentStep != 2 || !e.NextSendAt.Equal(next) {
		t.Fatalf("resume lost state: status=%s step=%d next=%v", e.Status, e.CurrentStep, e.NextSendAt)
	}
}

func TestGuardedTransitions(t *testing.T) {
	tests := []struct {
		name   string
		status domain.EnrollmentStatus
		action func(*domain.Enrollment) error
	}{
		{"pause enrolled", domain.EnrollmentEnrolled, func(e *domain.Enrollment) error { return e.Pause(t0) }},
		{"resume active", domain.EnrollmentActive, func(e *domain.Enrollment) error { return e.Resume(t0) }},
		{"complete completed", domain.EnrollmentCompleted, func(e *domain.Enrollment) error { return e.Complete(t0) }},
		{"unsubscribe bounced", domain.EnrollmentBounced, func(e *domain.Enrollment) error { return e.Unsubscribe(t0) }},
		{"bounce unsubscribed", domain.EnrollmentUnsubscribed, func(e *domain.Enrollment) error { return e.MarkBounced(t0) }},
		{"send after completion", domain.EnrollmentCompleted, func(e *domain.Enrollment) error { return e.RecordSent(t0) }},
		{"advance after unsubscribe", domain.EnrollmentUnsubscribed, func(e *domain.Enrollment) error { return e.MoveToStep(2, nil, t0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnrollment()
			e.Status = tt.status
			err := tt.action(e)
			var te *domain.TransitionError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransitionError, got %v", err)
			}
			if te.Status != string(tt.status) {
				t.Fatalf("error should name status %s, got %s", tt.status, te.Status)
			}
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []domain.EnrollmentStatus{domain.EnrollmentCompleted, domain.EnrollmentUnsubscribed, domain.EnrollmentBounced} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []domain.EnrollmentStatus{domain.EnrollmentEnrolled, domain.EnrollmentActive, domain.EnrollmentPaused} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRecordersIncrementByOne(t *testing.T) {
	e := newEnrollment()
	_ = e.Start(t0)

	at := t0.Add(time.Minute)
	if err := e.RecordSent(at); err != nil {
		t.Fatalf("record sent: %v", err)
	}
	e.RecordOpened(at)
	e.RecordClicked(at)

	if e.EmailsSent != 1 || e.EmailsOpened != 1 || e.EmailsClicked != 1 {
		t.Fatalf("expected 1/1/1, got %d/%d/%d", e.EmailsSent, e.EmailsOpened, e.EmailsClicked)
	}
	if e.Status != domain.EnrollmentActive {
		t.Fatalf("recorders must not change status, got %s", e.Status)
	}
	if !e.LastActivityAt.Equal(at) {
		t.Fatalf("expected last activity %v, got %v", at, e.LastActivityAt)
	}
}

func TestEngagementAfterCompletion(t *testing.T) {
	e := newEnrollment()
	_ = e.Start(t0)
	_ = e.Complete(t0)

	e.RecordOpened(t0.Add(time.Hour))
	if e.EmailsOpened != 1 || e.Status != domain.EnrollmentCompleted {
		t.Fatalf("open after completion: opened=%d status=%s", e.EmailsOpened, e.Status)
	}
}

func TestMarkConvertedIdempotent(t *testing.T) {
	e := newEnrollment()
	if !e.MarkConverted(t0) {
		t.Fatal("first conversion should report a change")
	}
	first := *e.ConvertedAt
	if e.MarkConverted(t0.Add(time.Hour)) {
		t.Fatal("second conversion should be a no-op")
	}
	if !e.ConvertedAt.Equal(first) {
		t.Fatalf("converted_at moved from %v to %v", first, e.ConvertedAt)
	}
}

func TestIsReadyForNextEmail(t *testing.T) {
	e := newEnrollment()
	if e.IsReadyForNextEmail(t0) {
		t.Fatal("enrolled (not active) must not be ready")
	}
	_ = e.Start(t0)
	if !e.IsReadyForNextEmail(t0) {
		t.Fatal("active with nil next_send_at must be ready")
	}
	future := t0.Add(time.Hour)
	e.NextSendAt = &future
	if e.IsReadyForNextEmail(t0) {
		t.Fatal("not ready before next_send_at")
	}
	if !e.IsReadyForNextEmail(future) {
		t.Fatal("ready exactly at next_send_at")
	}
}
