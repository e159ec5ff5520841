package domain

import "time"

// EnrollmentStatus enumerates the states of one recipient's progress
// through a campaign.
type EnrollmentStatus string

const (
	EnrollmentEnrolled     EnrollmentStatus = "enrolled"
	EnrollmentActive       EnrollmentStatus = "active"
	EnrollmentPaused       EnrollmentStatus = "paused"
	EnrollmentCompleted    EnrollmentStatus = "completed"
	EnrollmentUnsubscribed EnrollmentStatus = "unsubscribed"
	EnrollmentBounced      EnrollmentStatus = "bounced"
)

// IsTerminal returns true for statuses that admit no further transitions.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentUnsubscribed || s == EnrollmentBounced
}

// Enrollment tracks a single recipient moving through a campaign's steps.
//
// Once the status is terminal, status, step position, next send time and the
// sent counter are frozen. Opens, clicks and conversion may still be recorded
// because those events arrive after the last send.
type Enrollment struct {
	ID             string           `json:"id" db:"id"`
	CampaignID     string           `json:"campaign_id" db:"campaign_id"`
	Recipient      Recipient        `json:"recipient" db:"-"`
	Status         EnrollmentStatus `json:"status" db:"status"`
	CurrentStep    int              `json:"current_step" db:"current_step"`
	EnrolledAt     time.Time        `json:"enrolled_at" db:"enrolled_at"`
	LastActivityAt *time.Time       `json:"last_activity_at" db:"last_activity_at"`
	// NextSendAt nil means the enrollment is eligible as soon as it is active.
	NextSendAt    *time.Time `json:"next_send_at" db:"next_send_at"`
	CompletedAt   *time.Time `json:"completed_at" db:"completed_at"`
	EmailsSent    int        `json:"emails_sent" db:"emails_sent"`
	EmailsOpened  int        `json:"emails_opened" db:"emails_opened"`
	EmailsClicked int        `json:"emails_clicked" db:"emails_clicked"`
	Converted     bool       `json:"converted" db:"converted"`
	ConvertedAt   *time.Time `json:"converted_at" db:"converted_at"`

	// Dispatch lease, only meaningful to the persistence layer.
	ClaimedBy    string     `json:"-" db:"claimed_by"`
	ClaimedUntil *time.Time `json:"-" db:"claimed_until"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewEnrollment returns a fresh enrollment at step 0.
func NewEnrollment(id, campaignID string, r Recipient, now time.Time) *Enrollment {
	return &Enrollment{
		ID:         id,
		CampaignID: campaignID,
		Recipient:  r,
		Status:     EnrollmentEnrolled,
		EnrolledAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (e *Enrollment) touch(now time.Time) {
	e.LastActivityAt = &now
	e.UpdatedAt = now
}

// Start activates a freshly enrolled recipient at step 1. It never resets
// progress: an enrollment that has already started is rejected.
func (e *Enrollment) Start(now time.Time) error {
	if e.Status != EnrollmentEnrolled || e.CurrentStep != 0 {
		return enrollmentTransitionError("start", e.Status)
	}
	e.Status = EnrollmentActive
	e.CurrentStep = 1
	e.NextSendAt = nil
	e.touch(now)
	return nil
}

// Pause suspends an active enrollment, keeping its position and schedule.
func (e *Enrollment) Pause(now time.Time) error {
	if e.Status != EnrollmentActive {
		return enrollmentTransitionError("pause", e.Status)
	}
	e.Status = EnrollmentPaused
	e.touch(now)
	return nil
}

// Resume reactivates a paused enrollment with its position and schedule intact.
func (e *Enrollment) Resume(now time.Time) error {
	if e.Status != EnrollmentPaused {
		return enrollmentTransitionError("resume", e.Status)
	}
	e.Status = EnrollmentActive
	e.touch(now)
	return nil
}

// Complete finishes the sequence.
func (e *Enrollment) Complete(now time.Time) error {
	if e.Status.IsTerminal() {
		return enrollmentTransitionError("complete", e.Status)
	}
	e.Status = EnrollmentCompleted
	e.CompletedAt = &now
	e.touch(now)
	return nil
}

// Unsubscribe stops the sequence at the recipient's request.
func (e *Enrollment) Unsubscribe(now time.Time) error {
	if e.Status.IsTerminal() {
		return enrollmentTransitionError("unsubscribe", e.Status)
	}
	e.Status = EnrollmentUnsubscribed
	e.touch(now)
	return nil
}

// MarkBounced stops the sequence after a hard delivery failure.
func (e *Enrollment) MarkBounced(now time.Time) error {
	if e.Status.IsTerminal() {
		return enrollmentTransitionError("bounce", e.Status)
	}
	e.Status = EnrollmentBounced
	e.touch(now)
	return nil
}

// RecordSent counts one dispatched message.
func (e *Enrollment) RecordSent(now time.Time) error {
	if e.Status.IsTerminal() {
		return enrollmentTransitionError("record send for", e.Status)
	}
	e.EmailsSent++
	e.touch(now)
	return nil
}

// RecordOpened counts one open. Status is never changed.
func (e *Enrollment) RecordOpened(now time.Time) {
	e.EmailsOpened++
	e.touch(now)
}

// RecordClicked counts one click. Status is never changed.
func (e *Enrollment) RecordClicked(now time.Time) {
	e.EmailsClicked++
	e.touch(now)
}

// MarkConverted flags the enrollment as converted. It returns true only on
// the call that flips the flag; repeated calls change nothing.
func (e *Enrollment) MarkConverted(now time.Time) bool {
	if e.Converted {
		return false
	}
	e.Converted = true
	e.ConvertedAt = &now
	e.touch(now)
	return true
}

// MoveToStep positions the enrollment on step with the given next send time.
func (e *Enrollment) MoveToStep(step int, nextSendAt *time.Time, now time.Time) error {
	if e.Status.IsTerminal() {
		return enrollmentTransitionError("advance", e.Status)
	}
	e.CurrentStep = step
	e.NextSendAt = nextSendAt
	e.touch(now)
	return nil
}

// IsReadyForNextEmail reports whether the enrollment is due at now.
func (e *Enrollment) IsReadyForNextEmail(now time.Time) bool {
	if e.Status != EnrollmentActive {
		return false
	}
	return e.NextSendAt == nil || !e.NextSendAt.After(now)
}
