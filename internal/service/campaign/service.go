package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/clock"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo  Repository
	clock clock.Clock
}

// NewService creates a campaign service backed by the given repository.
// A nil clock uses the wall clock.
func NewService(repo Repository, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{repo: repo, clock: clk}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, f)
}

// Steps returns the campaign's steps ordered by step number.
func (s *Service) Steps(ctx context.Context, id string) ([]domain.Step, error) {
	return s.repo.ListSteps(ctx, id)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name           string          `json:"name"`
	Timezone       string          `json:"timezone"`
	AutoEnroll     bool            `json:"auto_enroll"`
	TargetCriteria json.RawMessage `json:"target_criteria"`
	Steps          []domain.Step   `json:"steps"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidCampaign)
	}
	if err := validateTimezone(input.Timezone); err != nil {
		return nil, err
	}
	if err := validateSteps(input.Steps); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	c := &domain.Campaign{
		ID:             uuid.New().String(),
		Name:           input.Name,
		Status:         domain.CampaignDraft,
		AutoEnroll:     input.AutoEnroll,
		TargetCriteria: input.TargetCriteria,
		Timezone:       input.Timezone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id

	if len(input.Steps) > 0 {
		if err := s.repo.ReplaceSteps(ctx, id, prepareSteps(id, input.Steps, now)); err != nil {
			return nil, fmt.Errorf("save steps: %w", err)
		}
	}
	return c, nil
}

// Update edits a draft or paused campaign.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.CheckEditable(); err != nil {
		return nil, err
	}
	if u.Timezone != nil {
		if err := validateTimezone(*u.Timezone); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// SetSteps replaces the step list of a draft or paused campaign.
func (s *Service) SetSteps(ctx context.Context, id string, steps []domain.Step) ([]domain.Step, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.CheckEditable(); err != nil {
		return nil, err
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	prepared := prepareSteps(id, steps, s.clock.Now())
	if err := s.repo.ReplaceSteps(ctx, id, prepared); err != nil {
		return nil, err
	}
	return prepared, nil
}

// Start activates the campaign from draft, scheduled or paused.
func (s *Service) Start(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.transition(ctx, id, "start", func(c *domain.Campaign, now time.Time) error { return c.Start(now) })
}

// Pause halts an active campaign. Enrollments stop firing on the next poll.
func (s *Service) Pause(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.transition(ctx, id, "pause", func(c *domain.Campaign, now time.Time) error { return c.Pause(now) })
}

// Schedule marks a draft campaign as scheduled.
func (s *Service) Schedule(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.transition(ctx, id, "schedule", func(c *domain.Campaign, now time.Time) error { return c.Schedule(now) })
}

// Complete ends the campaign from any status.
func (s *Service) Complete(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.transition(ctx, id, "complete", func(c *domain.Campaign, now time.Time) error {
		c.Complete(now)
		return nil
	})
}

// Archive retires the campaign from any status.
func (s *Service) Archive(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.transition(ctx, id, "archive", func(c *domain.Campaign, now time.Time) error {
		c.Archive(now)
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id, action string, fn func(*domain.Campaign, time.Time) error) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := c.Status
	if err := fn(c, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.SaveStatus(ctx, c, from); err != nil {
		return nil, fmt.Errorf("%s campaign: %w", action, err)
	}
	logger.Info("campaign status changed", "campaign_id", id, "from", string(from), "to", string(c.Status))
	return c, nil
}

// Recompute rebuilds the enrollment-derived counters of a campaign and
// returns the updated campaign. Running it repeatedly yields the same result.
func (s *Service) Recompute(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.EnrollmentTotals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("enrollment totals: %w", err)
	}
	if err := s.repo.SaveTotals(ctx, id, totals); err != nil {
		return nil, fmt.Errorf("save totals: %w", err)
	}
	c.ApplyTotals(totals, s.clock.Now())
	return c, nil
}

// Metrics returns the campaign's current counters and rates.
func (s *Service) Metrics(ctx context.Context, id string) (domain.CampaignMetrics, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.CampaignMetrics{}, err
	}
	return c.Metrics(s.clock.Now()), nil
}

// RecordDelivered adds n delivered messages.
func (s *Service) RecordDelivered(ctx context.Context, id string, n int64) error {
	return s.repo.AddCounters(ctx, id, CounterDelta{Delivered: n})
}

// RecordReplied adds n replies.
func (s *Service) RecordReplied(ctx context.Context, id string, n int64) error {
	return s.repo.AddCounters(ctx, id, CounterDelta{Replied: n})
}

// RecordRevenue adds attributed revenue.
func (s *Service) RecordRevenue(ctx context.Context, id string, amount float64) error {
	return s.repo.AddCounters(ctx, id, CounterDelta{Revenue: amount})
}

func validateTimezone(tz string) error {
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidCampaign, tz)
	}
	return nil
}

func validateSteps(steps []domain.Step) error {
	seen := make(map[int]bool, len(steps))
	for i := range steps {
		if err := steps[i].Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidStep, err)
		}
		if seen[steps[i].StepNumber] {
			return fmt.Errorf("%w: duplicate step number %d", ErrInvalidStep, steps[i].StepNumber)
		}
		seen[steps[i].StepNumber] = true
	}
	return nil
}

func prepareSteps(campaignID string, steps []domain.Step, now time.Time) []domain.Step {
	out := make([]domain.Step, len(steps))
	copy(out, steps)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.New().String()
		}
		out[i].CampaignID = campaignID
		if out[i].CreatedAt.IsZero() {
			out[i].CreatedAt = now
		}
		out[i].UpdatedAt = now
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out
}
