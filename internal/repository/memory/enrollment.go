package memory

import (
	"context"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/service/campaign"
	"github.com/ignite/drip-engine/internal/service/enrollment"
)

// EnrollmentRepo implements enrollment.Repository in memory.
type EnrollmentRepo struct{ s *Store }

var _ enrollment.Repository = (*EnrollmentRepo)(nil)

func (r *EnrollmentRepo) Get(_ context.Context, id string) (*domain.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, enrollment.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *EnrollmentRepo) Create(_ context.Context, e *domain.Enrollment) (*domain.Enrollment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.campaigns[e.CampaignID]; !ok {
		return nil, false, campaign.ErrNotFound
	}
	key := recipientKey(e.CampaignID, e.Recipient)
	if id, ok := r.s.byRecipient[key]; ok {
		cp := *r.s.enrollments[id]
		return &cp, false, nil
	}
	stored := *e
	r.s.enrollments[e.ID] = &stored
	r.s.byRecipient[key] = e.ID
	cp := stored
	return &cp, true, nil
}

func (r *EnrollmentRepo) Mutate(_ context.Context, id string, fn func(e *domain.Enrollment) error) (*domain.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, enrollment.ErrNotFound
	}
	work := *e
	if err := fn(&work); err != nil {
		return nil, err
	}
	*e = work
	cp := work
	return &cp, nil
}

func (r *EnrollmentRepo) Convert(_ context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return false, enrollment.ErrNotFound
	}
	if !e.MarkConverted(at) {
		return false, nil
	}
	if c, ok := r.s.campaigns[e.CampaignID]; ok {
		c.TotalConverted++
	}
	return true, nil
}

func (r *EnrollmentRepo) SelectReady(_ context.Context, f enrollment.ReadyFilter) ([]domain.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ready := r.s.ready(f.CampaignID, f.Now, f.Limit)
	out := make([]domain.Enrollment, 0, len(ready))
	for _, e := range ready {
		out = append(out, *e)
	}
	return out, nil
}

func (r *EnrollmentRepo) ClaimReady(_ context.Context, workerID string, f enrollment.ReadyFilter, lease time.Duration) ([]domain.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	until := f.Now.Add(lease)
	ready := r.s.ready(f.CampaignID, f.Now, f.Limit)
	out := make([]domain.Enrollment, 0, len(ready))
	for _, e := range ready {
		e.ClaimedBy = workerID
		e.ClaimedUntil = &until
		out = append(out, *e)
	}
	return out, nil
}

func (r *EnrollmentRepo) Fire(_ context.Context, id, workerID string, fn func(e *domain.Enrollment) error) (*domain.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, enrollment.ErrNotFound
	}
	if e.ClaimedBy != workerID {
		return nil, enrollment.ErrLeaseLost
	}
	work := *e
	if err := fn(&work); err != nil {
		return nil, err
	}
	work.ClaimedBy = ""
	work.ClaimedUntil = nil
	*e = work
	cp := work
	return &cp, nil
}

func (r *EnrollmentRepo) Release(_ context.Context, id, workerID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return enrollment.ErrNotFound
	}
	if e.ClaimedBy != workerID {
		return enrollment.ErrLeaseLost
	}
	e.ClaimedBy = ""
	e.ClaimedUntil = nil
	return nil
}
