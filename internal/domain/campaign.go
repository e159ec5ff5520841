package domain

import (
	"encoding/json"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignArchived  CampaignStatus = "archived"
)

// Campaign is a named sequence of steps with aggregate counters rolled up
// from its enrollments.
type Campaign struct {
	ID             string          `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Status         CampaignStatus  `json:"status" db:"status"`
	AutoEnroll     bool            `json:"auto_enroll" db:"auto_enroll"`
	TargetCriteria json.RawMessage `json:"target_criteria,omitempty" db:"target_criteria"`
	// Timezone is the IANA zone in which step send times and weekdays are
	// interpreted. Empty means UTC.
	Timezone string `json:"timezone" db:"timezone"`

	// Counters (read-only, maintained by the aggregator and callbacks)
	TotalRecipients   int64   `json:"total_recipients" db:"total_recipients"`
	TotalSent         int64   `json:"total_sent" db:"total_sent"`
	TotalDelivered    int64   `json:"total_delivered" db:"total_delivered"`
	TotalOpened       int64   `json:"total_opened" db:"total_opened"`
	TotalClicked      int64   `json:"total_clicked" db:"total_clicked"`
	TotalReplied      int64   `json:"total_replied" db:"total_replied"`
	TotalUnsubscribed int64   `json:"total_unsubscribed" db:"total_unsubscribed"`
	TotalConverted    int64   `json:"total_converted" db:"total_converted"`
	Revenue           float64 `json:"revenue" db:"revenue"`

	StartedAt *time.Time `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at" db:"ended_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignArchived
}

// CanEnroll reports whether new enrollments may be created.
func (c *Campaign) CanEnroll() bool { return !c.IsTerminal() }

// AcceptsDispatch reports whether enrollments of this campaign may fire.
func (c *Campaign) AcceptsDispatch() bool { return c.Status == CampaignActive }

// Location resolves Timezone, falling back to UTC when it is empty or unknown.
func (c *Campaign) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Start activates the campaign from draft, scheduled or paused.
func (c *Campaign) Start(now time.Time) error {
	switch c.Status {
	case CampaignDraft, CampaignScheduled, CampaignPaused:
	default:
		return campaignTransitionError("start", c.Status)
	}
	c.Status = CampaignActive
	if c.StartedAt == nil {
		c.StartedAt = &now
	}
	c.UpdatedAt = now
	return nil
}

// Schedule marks a draft campaign as scheduled for a later start.
func (c *Campaign) Schedule(now time.Time) error {
	if c.Status != CampaignDraft {
		return campaignTransitionError("schedule", c.Status)
	}
	c.Status = CampaignScheduled
	c.UpdatedAt = now
	return nil
}

// Pause halts an active campaign.
func (c *Campaign) Pause(now time.Time) error {
	if c.Status != CampaignActive {
		return campaignTransitionError("pause", c.Status)
	}
	c.Status = CampaignPaused
	c.UpdatedAt = now
	return nil
}

// Complete ends the campaign regardless of its current status.
func (c *Campaign) Complete(now time.Time) {
	c.Status = CampaignCompleted
	if c.EndedAt == nil {
		c.EndedAt = &now
	}
	c.UpdatedAt = now
}

// Archive retires the campaign regardless of its current status.
func (c *Campaign) Archive(now time.Time) {
	c.Status = CampaignArchived
	if c.EndedAt == nil {
		c.EndedAt = &now
	}
	c.UpdatedAt = now
}

// CheckEditable returns a TransitionError unless the campaign is draft or paused.
func (c *Campaign) CheckEditable() error {
	if c.Status != CampaignDraft && c.Status != CampaignPaused {
		return campaignTransitionError("edit", c.Status)
	}
	return nil
}

// OpenRate is opened over delivered, as a percentage.
func (c *Campaign) OpenRate() float64 { return rate(c.TotalOpened, c.TotalDelivered) }

// ClickThroughRate is clicked over delivered, as a percentage.
func (c *Campaign) ClickThroughRate() float64 { return rate(c.TotalClicked, c.TotalDelivered) }

// ConversionRate is converted over recipients, as a percentage.
func (c *Campaign) ConversionRate() float64 { return rate(c.TotalConverted, c.TotalRecipients) }

// UnsubscribeRate is unsubscribed over delivered, as a percentage.
func (c *Campaign) UnsubscribeRate() float64 { return rate(c.TotalUnsubscribed, c.TotalDelivered) }

// BounceRate is the share of sent messages that were not delivered.
func (c *Campaign) BounceRate() float64 {
	return rate(c.TotalSent-c.TotalDelivered, c.TotalSent)
}

func rate(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}

// CampaignMetrics is a point-in-time view of a campaign's counters and rates.
type CampaignMetrics struct {
	CampaignID        string         `json:"campaign_id" dynamodbav:"campaign_id"`
	Status            CampaignStatus `json:"status" dynamodbav:"status"`
	TotalRecipients   int64          `json:"total_recipients" dynamodbav:"total_recipients"`
	TotalSent         int64          `json:"total_sent" dynamodbav:"total_sent"`
	TotalDelivered    int64          `json:"total_delivered" dynamodbav:"total_delivered"`
	TotalOpened       int64          `json:"total_opened" dynamodbav:"total_opened"`
	TotalClicked      int64          `json:"total_clicked" dynamodbav:"total_clicked"`
	TotalReplied      int64          `json:"total_replied" dynamodbav:"total_replied"`
	TotalUnsubscribed int64          `json:"total_unsubscribed" dynamodbav:"total_unsubscribed"`
	TotalConverted    int64          `json:"total_converted" dynamodbav:"total_converted"`
	Revenue           float64        `json:"revenue" dynamodbav:"revenue"`
	OpenRate          float64        `json:"open_rate" dynamodbav:"open_rate"`
	ClickThroughRate  float64        `json:"click_through_rate" dynamodbav:"click_through_rate"`
	ConversionRate    float64        `json:"conversion_rate" dynamodbav:"conversion_rate"`
	UnsubscribeRate   float64        `json:"unsubscribe_rate" dynamodbav:"unsubscribe_rate"`
	BounceRate        float64        `json:"bounce_rate" dynamodbav:"bounce_rate"`
	ComputedAt        time.Time      `json:"computed_at" dynamodbav:"computed_at"`
}

// Metrics snapshots the campaign's counters and derived rates at now.
func (c *Campaign) Metrics(now time.Time) CampaignMetrics {
	return CampaignMetrics{
		CampaignID:        c.ID,
		Status:            c.Status,
		TotalRecipients:   c.TotalRecipients,
		TotalSent:         c.TotalSent,
		TotalDelivered:    c.TotalDelivered,
		TotalOpened:       c.TotalOpened,
		TotalClicked:      c.TotalClicked,
		TotalReplied:      c.TotalReplied,
		TotalUnsubscribed: c.TotalUnsubscribed,
		TotalConverted:    c.TotalConverted,
		Revenue:           c.Revenue,
		OpenRate:          c.OpenRate(),
		ClickThroughRate:  c.ClickThroughRate(),
		ConversionRate:    c.ConversionRate(),
		UnsubscribeRate:   c.UnsubscribeRate(),
		BounceRate:        c.BounceRate(),
		ComputedAt:        now,
	}
}

// EnrollmentTotals are the aggregates the rollup derives from enrollments.
type EnrollmentTotals struct {
	Recipients   int64
	Sent         int64
	Opened       int64
	Clicked      int64
	Converted    int64
	Unsubscribed int64
}

// ApplyTotals overwrites the enrollment-derived counters.
func (c *Campaign) ApplyTotals(t EnrollmentTotals, now time.Time) {
	c.TotalRecipients = t.Recipients
	c.TotalSent = t.Sent
	c.TotalOpened = t.Opened
	c.TotalClicked = t.Clicked
	c.TotalConverted = t.Converted
	c.TotalUnsubscribed = t.Unsubscribed
	c.UpdatedAt = now
}
