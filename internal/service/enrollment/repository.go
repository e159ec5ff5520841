package enrollment

import (
	"context"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
)

// Repository defines the data access contract for enrollments.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single enrollment. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Enrollment, error)

	// Create inserts e unless the campaign already has an enrollment for the
	// same recipient. In that case the existing row is returned with
	// created=false and e is not written.
	Create(ctx context.Context, e *domain.Enrollment) (existing *domain.Enrollment, created bool, err error)

	// Mutate loads the enrollment under a row lock, applies fn and persists
	// the result atomically. If fn returns an error nothing is written.
	Mutate(ctx context.Context, id string, fn func(e *domain.Enrollment) error) (*domain.Enrollment, error)

	// Convert flags the enrollment as converted at the given time and, only
	// when the flag flips, increments the campaign's total_converted in the
	// same transaction. Returns false when it was already converted.
	Convert(ctx context.Context, id string, at time.Time) (bool, error)

	// SelectReady lists ready enrollments without claiming them, ordered by
	// next_send_at ascending with nulls first, then enrolled_at, then id.
	SelectReady(ctx context.Context, f ReadyFilter) ([]domain.Enrollment, error)

	// ClaimReady selects ready, unleased enrollments in SelectReady order,
	// skipping rows locked by other workers, and stamps them with a lease
	// owned by workerID that expires at f.Now+lease.
	ClaimReady(ctx context.Context, workerID string, f ReadyFilter, lease time.Duration) ([]domain.Enrollment, error)

	// Fire applies fn to an enrollment leased by workerID and persists the
	// result with the lease cleared. Returns ErrLeaseLost if workerID no
	// longer holds the lease.
	Fire(ctx context.Context, id, workerID string, fn func(e *domain.Enrollment) error) (*domain.Enrollment, error)

	// Release clears workerID's lease without touching any other field.
	Release(ctx context.Context, id, workerID string) error
}

// ReadyFilter scopes a ready-enrollment query.
type ReadyFilter struct {
	// CampaignID restricts the query to one campaign when non-empty.
	CampaignID string
	Limit      int
	Now        time.Time
}

// CampaignStore is the campaign-side data the enrollment service reads.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	ListSteps(ctx context.Context, campaignID string) ([]domain.Step, error)
}
