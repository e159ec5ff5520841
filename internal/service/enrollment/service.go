package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/clock"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/sequence"
)

// DefaultReadyLimit caps ready queries that don't specify a limit.
const DefaultReadyLimit = 100

// Service implements enrollment business logic. All public methods are safe
// for concurrent use if the underlying repositories are.
type Service struct {
	repo      Repository
	campaigns CampaignStore
	clock     clock.Clock
	stepping  sequence.Stepping
}

// NewService creates an enrollment service. A nil clock uses the wall clock.
func NewService(repo Repository, campaigns CampaignStore, clk clock.Clock, stepping sequence.Stepping) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if stepping == "" {
		stepping = sequence.StrictSequential
	}
	return &Service{repo: repo, campaigns: campaigns, clock: clk, stepping: stepping}
}

// Stepping returns the advancement policy in use.
func (s *Service) Stepping() sequence.Stepping { return s.stepping }

// Get returns a single enrollment.
func (s *Service) Get(ctx context.Context, id string) (*domain.Enrollment, error) {
	return s.repo.Get(ctx, id)
}

// Enroll adds a recipient to a campaign. Enrolling the same recipient twice
// returns the existing enrollment with created=false.
func (s *Service) Enroll(ctx context.Context, campaignID string, r domain.Recipient) (*domain.Enrollment, bool, error) {
	if r.IsZero() {
		return nil, false, ErrInvalidRecipient
	}
	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, false, err
	}
	if !c.CanEnroll() {
		return nil, false, fmt.Errorf("%w: status is %s", ErrCampaignClosed, c.Status)
	}

	e := domain.NewEnrollment(uuid.New().String(), campaignID, r, s.clock.Now())
	got, created, err := s.repo.Create(ctx, e)
	if err != nil {
		return nil, false, fmt.Errorf("enroll %s: %w", r, err)
	}
	if created {
		logger.Info("recipient enrolled", "campaign_id", campaignID, "enrollment_id", got.ID, "recipient", r.String())
	}
	return got, created, nil
}

// EnrollResult summarizes a batch enrollment.
type EnrollResult struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
}

// EnrollMany enrolls each recipient, counting new and pre-existing rows.
// It stops at the first error.
func (s *Service) EnrollMany(ctx context.Context, campaignID string, rs []domain.Recipient) (EnrollResult, error) {
	var res EnrollResult
	for _, r := range rs {
		_, created, err := s.Enroll(ctx, campaignID, r)
		if err != nil {
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Existing++
		}
	}
	return res, nil
}

// Activate starts an enrolled recipient on the campaign's first step.
func (s *Service) Activate(ctx context.Context, id string) (*domain.Enrollment, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c, steps, err := s.loadCampaign(ctx, e.CampaignID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	return s.repo.Mutate(ctx, id, func(e *domain.Enrollment) error {
		out, err := sequence.Activate(e, steps, s.stepping, now, c.Location())
		if err != nil {
			return err
		}
		if out.Completed {
			logger.Info("enrollment completed on activation", "enrollment_id", e.ID, "reason", "no first step")
		}
		return nil
	})
}

// Pause suspends an active enrollment.
func (s *Service) Pause(ctx context.Context, id string) (*domain.Enrollment, error) {
	now := s.clock.Now()
	return s.repo.Mutate(ctx, id, func(e *domain.Enrollment) error { return e.Pause(now) })
}

// Resume reactivates a paused enrollment.
func (s *Service) Resume(ctx context.Context, id string) (*domain.Enrollment, error) {
	now := s.clock.Now()
	return s.repo.Mutate(ctx, id, func(e *domain.Enrollment) error { return e.Resume(now) })
}

// Unsubscribe ends the enrollment at the recipient's request.
func (s *Service) Unsubscribe(ctx context.Context, id string) (*domain.Enrollment, error) {
	now := s.clock.Now()
	return s.repo.Mutate(ctx, id, func(e *domain.Enrollment) error { return e.Unsubscribe(now) })
}

// MarkBounced ends the enrollment after a hard bounce.
func (s *Service) MarkBounced(ctx context.Context, id string) (*domain.Enrollment, error) {
	now := s.clock.Now()
	return s.repo.Mutate(ctx, id, func(e *domain.Enrollment) error { return e.MarkBounced(now) })
}

// RecordOpened counts one open.
func (s *Service) RecordOpened(ctx context.Context, id string) (*domain.Enrollment, error) {
	now := s.clock.Now()
	return s.repo.Mutate(ctx, id, func(e *domain.Enrollment) error {
		e.RecordOpened(now)
		return nil
	})
}

// RecordClicked counts one click.
func (s *Service) RecordClicked(ctx context.Context, id string) (*domain.Enrollment, error) {
	now := s.clock.Now()
	return s.repo.Mutate(ctx, id, func(e *domain.Enrollment) error {
		e.RecordClicked(now)
		return nil
	})
}

// MarkConverted flags a conversion. The campaign's converted counter moves
// by exactly one no matter how often this is called.
func (s *Service) MarkConverted(ctx context.Context, id string) (bool, error) {
	changed, err := s.repo.Convert(ctx, id, s.clock.Now())
	if err != nil {
		return false, err
	}
	if changed {
		logger.Info("enrollment converted", "enrollment_id", id)
	}
	return changed, nil
}

// SelectReady lists enrollments due now, optionally for one campaign.
func (s *Service) SelectReady(ctx context.Context, campaignID string, limit int) ([]domain.Enrollment, error) {
	if limit <= 0 {
		limit = DefaultReadyLimit
	}
	return s.repo.SelectReady(ctx, ReadyFilter{CampaignID: campaignID, Limit: limit, Now: s.clock.Now()})
}

// ClaimReady leases up to limit due enrollments to workerID.
func (s *Service) ClaimReady(ctx context.Context, workerID, campaignID string, limit int, lease time.Duration) ([]domain.Enrollment, error) {
	if limit <= 0 {
		limit = DefaultReadyLimit
	}
	f := ReadyFilter{CampaignID: campaignID, Limit: limit, Now: s.clock.Now()}
	claimed, err := s.repo.ClaimReady(ctx, workerID, f, lease)
	if err != nil {
		return nil, fmt.Errorf("claim ready: %w", err)
	}
	return claimed, nil
}

// Firing identifies a leased enrollment together with the campaign data
// needed to advance it.
type Firing struct {
	EnrollmentID string
	WorkerID     string
	Campaign     *domain.Campaign
	Steps        []domain.Step
}

// AdvanceAfterSend records a delivered step and advances the enrollment in
// one write, releasing the lease.
func (s *Service) AdvanceAfterSend(ctx context.Context, f Firing) (sequence.Outcome, error) {
	return s.fire(ctx, f, true)
}

// SkipCurrentStep advances past the current step without counting a send.
func (s *Service) SkipCurrentStep(ctx context.Context, f Firing) (sequence.Outcome, error) {
	return s.fire(ctx, f, false)
}

func (s *Service) fire(ctx context.Context, f Firing, sent bool) (sequence.Outcome, error) {
	now := s.clock.Now()
	var out sequence.Outcome
	_, err := s.repo.Fire(ctx, f.EnrollmentID, f.WorkerID, func(e *domain.Enrollment) error {
		if sent {
			if err := e.RecordSent(now); err != nil {
				return err
			}
		}
		var err error
		out, err = sequence.Advance(e, f.Steps, s.stepping, now, f.Campaign.Location())
		return err
	})
	if err != nil {
		return sequence.Outcome{}, err
	}
	return out, nil
}

// Release gives up workerID's lease so the enrollment is retried on a
// later poll with its schedule unchanged.
func (s *Service) Release(ctx context.Context, id, workerID string) error {
	return s.repo.Release(ctx, id, workerID)
}

func (s *Service) loadCampaign(ctx context.Context, id string) (*domain.Campaign, []domain.Step, error) {
	c, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.campaigns.ListSteps(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list steps: %w", err)
	}
	return c, steps, nil
}
