package memory

import (
	"context"
	"sort"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/service/campaign"
	"github.com/ignite/drip-engine/internal/service/enrollment"
)

// CampaignRepo implements campaign.Repository and enrollment.CampaignStore
// in memory.
type CampaignRepo struct{ s *Store }

var (
	_ campaign.Repository      = (*CampaignRepo)(nil)
	_ enrollment.CampaignStore = (*CampaignRepo)(nil)
)

func (r *CampaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	want := make(map[domain.CampaignStatus]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		want[st] = true
	}
	var all []domain.Campaign
	for _, c := range r.s.campaigns {
		if len(want) > 0 && !want[c.Status] {
			continue
		}
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	if f.Offset >= total {
		return []domain.Campaign{}, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *c
	r.s.campaigns[c.ID] = &cp
	return c.ID, nil
}

func (r *CampaignRepo) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Timezone != nil {
		c.Timezone = *u.Timezone
	}
	if u.AutoEnroll != nil {
		c.AutoEnroll = *u.AutoEnroll
	}
	if u.TargetCriteria != nil {
		c.TargetCriteria = *u.TargetCriteria
	}
	return nil
}

func (r *CampaignRepo) SaveStatus(_ context.Context, c *domain.Campaign, from domain.CampaignStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.campaigns[c.ID]
	if !ok {
		return campaign.ErrNotFound
	}
	if stored.Status != from {
		return campaign.ErrStatusConflict
	}
	stored.Status = c.Status
	stored.StartedAt = c.StartedAt
	stored.EndedAt = c.EndedAt
	stored.UpdatedAt = c.UpdatedAt
	return nil
}

func (r *CampaignRepo) ListSteps(_ context.Context, campaignID string) ([]domain.Step, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	steps := r.s.steps[campaignID]
	out := make([]domain.Step, len(steps))
	copy(out, steps)
	return out, nil
}

func (r *CampaignRepo) ReplaceSteps(_ context.Context, campaignID string, steps []domain.Step) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignPaused {
		return campaign.ErrStatusConflict
	}
	r.s.putSteps(campaignID, steps)
	return nil
}

func (r *CampaignRepo) EnrollmentTotals(_ context.Context, campaignID string) (domain.EnrollmentTotals, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var t domain.EnrollmentTotals
	for _, e := range r.s.enrollments {
		if e.CampaignID != campaignID {
			continue
		}
		t.Recipients++
		t.Sent += int64(e.EmailsSent)
		t.Opened += int64(e.EmailsOpened)
		t.Clicked += int64(e.EmailsClicked)
		if e.Converted {
			t.Converted++
		}
		if e.Status == domain.EnrollmentUnsubscribed {
			t.Unsubscribed++
		}
	}
	return t, nil
}

func (r *CampaignRepo) SaveTotals(_ context.Context, campaignID string, t domain.EnrollmentTotals) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return campaign.ErrNotFound
	}
	c.TotalRecipients = t.Recipients
	c.TotalSent = t.Sent
	c.TotalOpened = t.Opened
	c.TotalClicked = t.Clicked
	c.TotalConverted = t.Converted
	c.TotalUnsubscribed = t.Unsubscribed
	return nil
}

func (r *CampaignRepo) AddCounters(_ context.Context, campaignID string, d campaign.CounterDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return campaign.ErrNotFound
	}
	c.TotalDelivered += d.Delivered
	c.TotalReplied += d.Replied
	c.Revenue += d.Revenue
	return nil
}
