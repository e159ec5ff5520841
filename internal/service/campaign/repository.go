package campaign

import (
	"context"
	"encoding/json"

	"github.com/ignite/drip-engine/internal/domain"
)

// Repository defines the data access contract for campaigns and their steps.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// Update modifies an editable (draft or paused) campaign. Only non-nil
	// fields are applied.
	Update(ctx context.Context, id string, u UpdateFields) error

	// SaveStatus writes c's status, started_at and ended_at, provided the
	// stored status still equals from. Returns ErrStatusConflict otherwise.
	SaveStatus(ctx context.Context, c *domain.Campaign, from domain.CampaignStatus) error

	// ListSteps returns the campaign's steps ordered by step number.
	ListSteps(ctx context.Context, campaignID string) ([]domain.Step, error)

	// ReplaceSteps swaps the campaign's whole step list in one transaction,
	// provided the campaign is still draft or paused when the write happens.
	// Returns ErrStatusConflict otherwise.
	ReplaceSteps(ctx context.Context, campaignID string, steps []domain.Step) error

	// EnrollmentTotals aggregates counters over the campaign's enrollments.
	EnrollmentTotals(ctx context.Context, campaignID string) (domain.EnrollmentTotals, error)

	// SaveTotals overwrites the enrollment-derived counters.
	SaveTotals(ctx context.Context, campaignID string, t domain.EnrollmentTotals) error

	// AddCounters atomically adds to the collaborator-maintained counters.
	AddCounters(ctx context.Context, campaignID string, d CounterDelta) error
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Statuses []domain.CampaignStatus
	Limit    int
	Offset   int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name           *string          `json:"name"`
	Timezone       *string          `json:"timezone"`
	AutoEnroll     *bool            `json:"auto_enroll"`
	TargetCriteria *json.RawMessage `json:"target_criteria"`
}

// CounterDelta carries increments for counters fed by delivery, reply and
// revenue callbacks.
type CounterDelta struct {
	Delivered int64   `json:"delivered"`
	Replied   int64   `json:"replied"`
	Revenue   float64 `json:"revenue"`
}
