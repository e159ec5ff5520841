// Package memory provides in-process implementations of the campaign and
// enrollment repositories. They honor the same locking, ordering and lease
// semantics as the Postgres repositories and back the service, worker and
// API tests.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
)

// Store holds campaigns, steps and enrollments behind one mutex so that
// cross-entity writes (conversion counters) stay atomic.
type Store struct {
	mu          sync.Mutex
	campaigns   map[string]*domain.Campaign
	steps       map[string][]domain.Step
	enrollments map[string]*domain.Enrollment
	byRecipient map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		campaigns:   make(map[string]*domain.Campaign),
		steps:       make(map[string][]domain.Step),
		enrollments: make(map[string]*domain.Enrollment),
		byRecipient: make(map[string]string),
	}
}

// Campaigns returns the campaign repository view of the store.
func (s *Store) Campaigns() *CampaignRepo { return &CampaignRepo{s: s} }

// Enrollments returns the enrollment repository view of the store.
func (s *Store) Enrollments() *EnrollmentRepo { return &EnrollmentRepo{s: s} }

func recipientKey(campaignID string, r domain.Recipient) string {
	return campaignID + "|" + r.String()
}

// ready returns copies of due, unleased enrollments of active campaigns in
// dispatch order. Callers hold s.mu.
func (s *Store) ready(campaignID string, now time.Time, limit int) []*domain.Enrollment {
	var out []*domain.Enrollment
	for _, e := range s.enrollments {
		if campaignID != "" && e.CampaignID != campaignID {
			continue
		}
		c, ok := s.campaigns[e.CampaignID]
		if !ok || !c.AcceptsDispatch() {
			continue
		}
		if !e.IsReadyForNextEmail(now) {
			continue
		}
		if e.ClaimedUntil != nil && e.ClaimedUntil.After(now) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return readyLess(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func readyLess(a, b *domain.Enrollment) bool {
	switch {
	case a.NextSendAt == nil && b.NextSendAt != nil:
		return true
	case a.NextSendAt != nil && b.NextSendAt == nil:
		return false
	case a.NextSendAt != nil && !a.NextSendAt.Equal(*b.NextSendAt):
		return a.NextSendAt.Before(*b.NextSendAt)
	}
	if !a.EnrolledAt.Equal(b.EnrolledAt) {
		return a.EnrolledAt.Before(b.EnrolledAt)
	}
	return a.ID < b.ID
}

// SeedSteps installs steps for a campaign regardless of its status. Fixtures
// use it to shape campaigns that are already running.
func (s *Store) SeedSteps(campaignID string, steps []domain.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putSteps(campaignID, steps)
}

func (s *Store) putSteps(campaignID string, steps []domain.Step) {
	cp := make([]domain.Step, len(steps))
	copy(cp, steps)
	sort.Slice(cp, func(i, j int) bool { return cp[i].StepNumber < cp[j].StepNumber })
	s.steps[campaignID] = cp
}
