package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/service/campaign"
	"github.com/ignite/drip-engine/internal/service/enrollment"
)

// EnrollmentRepo implements enrollment.Repository against PostgreSQL.
// Every read-modify-write runs in a transaction holding the row lock.
type EnrollmentRepo struct{ db *sql.DB }

// NewEnrollmentRepo creates a Postgres-backed enrollment repository.
func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

const enrollmentColumns = `
	id, campaign_id, recipient_type, recipient_id, status, current_step,
	enrolled_at, last_activity_at, next_send_at, completed_at,
	emails_sent, emails_opened, emails_clicked, converted, converted_at,
	COALESCE(claimed_by, ''), claimed_until, created_at, updated_at`

const readyColumns = `
	e.id, e.campaign_id, e.recipient_type, e.recipient_id, e.status, e.current_step,
	e.enrolled_at, e.last_activity_at, e.next_send_at, e.completed_at,
	e.emails_sent, e.emails_opened, e.emails_clicked, e.converted, e.converted_at,
	COALESCE(e.claimed_by, ''), e.claimed_until, e.created_at, e.updated_at`

// readyOrder is the dispatch order shared by SelectReady and ClaimReady.
const readyOrder = `ORDER BY e.next_send_at ASC NULLS FIRST, e.enrolled_at, e.id`

const readyPredicate = `
	e.status = 'active' AND c.status = 'active'
	AND ($1::text = '' OR e.campaign_id::text = $1)
	AND (e.next_send_at IS NULL OR e.next_send_at <= $2)
	AND (e.claimed_until IS NULL OR e.claimed_until <= $2)`

func scanEnrollment(row scanner) (*domain.Enrollment, error) {
	var (
		e            domain.Enrollment
		kind, rcptID string
	)
	err := row.Scan(
		&e.ID, &e.CampaignID, &kind, &rcptID, &e.Status, &e.CurrentStep,
		&e.EnrolledAt, &e.LastActivityAt, &e.NextSendAt, &e.CompletedAt,
		&e.EmailsSent, &e.EmailsOpened, &e.EmailsClicked, &e.Converted, &e.ConvertedAt,
		&e.ClaimedBy, &e.ClaimedUntil, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r, err := domain.ParseRecipient(kind, rcptID)
	if err != nil {
		return nil, fmt.Errorf("enrollment %s: %w", e.ID, err)
	}
	e.Recipient = r
	return &e, nil
}

func (r *EnrollmentRepo) Get(ctx context.Context, id string) (*domain.Enrollment, error) {
	e, err := scanEnrollment(r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM drip_enrollments WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, enrollment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (r *EnrollmentRepo) Create(ctx context.Context, e *domain.Enrollment) (*domain.Enrollment, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO drip_enrollments
			(id, campaign_id, recipient_type, recipient_id, status, current_step,
			 enrolled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (campaign_id, recipient_type, recipient_id) DO NOTHING
	`, e.ID, e.CampaignID, string(e.Recipient.Type()), e.Recipient.ID(), e.Status, e.CurrentStep,
		e.EnrolledAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return nil, false, campaign.ErrNotFound
		}
		return nil, false, fmt.Errorf("insert enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		cp := *e
		return &cp, true, nil
	}

	existing, err := scanEnrollment(r.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM drip_enrollments
		WHERE campaign_id = $1 AND recipient_type = $2 AND recipient_id = $3
	`, e.CampaignID, string(e.Recipient.Type()), e.Recipient.ID()))
	if err != nil {
		return nil, false, fmt.Errorf("load existing enrollment: %w", err)
	}
	return existing, false, nil
}

func (r *EnrollmentRepo) Mutate(ctx context.Context, id string, fn func(e *domain.Enrollment) error) (*domain.Enrollment, error) {
	return r.lockAndSave(ctx, id, "", fn)
}

func (r *EnrollmentRepo) Fire(ctx context.Context, id, workerID string, fn func(e *domain.Enrollment) error) (*domain.Enrollment, error) {
	return r.lockAndSave(ctx, id, workerID, func(e *domain.Enrollment) error {
		if err := fn(e); err != nil {
			return err
		}
		e.ClaimedBy = ""
		e.ClaimedUntil = nil
		return nil
	})
}

// lockAndSave loads the row FOR UPDATE, applies fn and writes every mutable
// column back. A non-empty owner must match claimed_by.
func (r *EnrollmentRepo) lockAndSave(ctx context.Context, id, owner string, fn func(e *domain.Enrollment) error) (*domain.Enrollment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	e, err := scanEnrollment(tx.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM drip_enrollments WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, enrollment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	if owner != "" && e.ClaimedBy != owner {
		return nil, enrollment.ErrLeaseLost
	}
	if err := fn(e); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE drip_enrollments
		SET status = $1, current_step = $2, last_activity_at = $3, next_send_at = $4,
		    completed_at = $5, emails_sent = $6, emails_opened = $7, emails_clicked = $8,
		    converted = $9, converted_at = $10, claimed_by = $11, claimed_until = $12,
		    updated_at = $13
		WHERE id = $14
	`, e.Status, e.CurrentStep, e.LastActivityAt, e.NextSendAt,
		e.CompletedAt, e.EmailsSent, e.EmailsOpened, e.EmailsClicked,
		e.Converted, e.ConvertedAt, nullString(e.ClaimedBy), e.ClaimedUntil,
		e.UpdatedAt, e.ID)
	if err != nil {
		return nil, fmt.Errorf("save enrollment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

func (r *EnrollmentRepo) Convert(ctx context.Context, id string, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var campaignID string
	err = tx.QueryRowContext(ctx, `
		UPDATE drip_enrollments
		SET converted = true, converted_at = $2, last_activity_at = $2, updated_at = $2
		WHERE id = $1 AND converted = false
		RETURNING campaign_id
	`, id, at).Scan(&campaignID)
	if err == sql.ErrNoRows {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM drip_enrollments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, fmt.Errorf("check enrollment: %w", err)
		}
		if !exists {
			return false, enrollment.ErrNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark converted: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE drip_campaigns SET total_converted = total_converted + 1, updated_at = $2 WHERE id = $1
	`, campaignID, at); err != nil {
		return false, fmt.Errorf("bump converted: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (r *EnrollmentRepo) SelectReady(ctx context.Context, f enrollment.ReadyFilter) ([]domain.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+readyColumns+`
		FROM drip_enrollments e
		JOIN drip_campaigns c ON c.id = e.campaign_id
		WHERE `+readyPredicate+`
		`+readyOrder+`
		LIMIT $3
	`, f.CampaignID, f.Now, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("select ready: %w", err)
	}
	defer rows.Close()
	return collectEnrollments(rows)
}

func (r *EnrollmentRepo) ClaimReady(ctx context.Context, workerID string, f enrollment.ReadyFilter, lease time.Duration) ([]domain.Enrollment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+readyColumns+`
		FROM drip_enrollments e
		JOIN drip_campaigns c ON c.id = e.campaign_id
		WHERE `+readyPredicate+`
		`+readyOrder+`
		LIMIT $3
		FOR UPDATE OF e SKIP LOCKED
	`, f.CampaignID, f.Now, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("claim ready: %w", err)
	}
	claimed, err := collectEnrollments(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return claimed, tx.Commit()
	}

	until := f.Now.Add(lease)
	ids := make([]string, len(claimed))
	for i := range claimed {
		ids[i] = claimed[i].ID
		claimed[i].ClaimedBy = workerID
		claimed[i].ClaimedUntil = &until
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE drip_enrollments SET claimed_by = $1, claimed_until = $2 WHERE id::text = ANY($3)
	`, workerID, until, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("stamp lease: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return claimed, nil
}

func (r *EnrollmentRepo) Release(ctx context.Context, id, workerID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE drip_enrollments SET claimed_by = NULL, claimed_until = NULL
		WHERE id = $1 AND claimed_by = $2
	`, id, workerID)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enrollment.ErrLeaseLost
	}
	return nil
}

func collectEnrollments(rows *sql.Rows) ([]domain.Enrollment, error) {
	out := []domain.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
