package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, name, status, auto_enroll, COALESCE(target_criteria, 'null'::jsonb), COALESCE(timezone, ''),
	total_recipients, total_sent, total_delivered, total_opened, total_clicked,
	total_replied, total_unsubscribed, total_converted, revenue,
	started_at, ended_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row scanner) (*domain.Campaign, error) {
	var (
		c        domain.Campaign
		criteria []byte
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Status, &c.AutoEnroll, &criteria, &c.Timezone,
		&c.TotalRecipients, &c.TotalSent, &c.TotalDelivered, &c.TotalOpened, &c.TotalClicked,
		&c.TotalReplied, &c.TotalUnsubscribed, &c.TotalConverted, &c.Revenue,
		&c.StartedAt, &c.EndedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(criteria) > 0 && string(criteria) != "null" {
		c.TargetCriteria = json.RawMessage(criteria)
	}
	return &c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM drip_campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ""
	args := []any{}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = " WHERE status = ANY($1)"
		args = append(args, pq.Array(statuses))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drip_campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM drip_campaigns%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		campaignColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO drip_campaigns
			(id, name, status, auto_enroll, target_criteria, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Name, c.Status, c.AutoEnroll, nullJSON(c.TargetCriteria), c.Timezone, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []any{}
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Timezone != nil {
		add("timezone", *u.Timezone)
	}
	if u.AutoEnroll != nil {
		add("auto_enroll", *u.AutoEnroll)
	}
	if u.TargetCriteria != nil {
		add("target_criteria", nullJSON(*u.TargetCriteria))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	q := fmt.Sprintf(`UPDATE drip_campaigns SET %s, updated_at = NOW() WHERE id = $%d AND status IN ('draft','paused')`,
		strings.Join(sets, ", "), len(args))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrStatusConflict
	}
	return nil
}

func (r *CampaignRepo) SaveStatus(ctx context.Context, c *domain.Campaign, from domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE drip_campaigns
		SET status = $1, started_at = $2, ended_at = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`, c.Status, c.StartedAt, c.EndedAt, c.UpdatedAt, c.ID, from)
	if err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrStatusConflict
	}
	return nil
}

func (r *CampaignRepo) ListSteps(ctx context.Context, campaignID string) ([]domain.Step, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, step_number, delay_days, delay_hours, is_active,
		       send_time::text, send_days, send_conditions, skip_conditions,
		       subject, html_body, text_body, from_name, from_email, created_at, updated_at
		FROM drip_steps
		WHERE campaign_id = $1
		ORDER BY step_number
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	out := []domain.Step{}
	for rows.Next() {
		var (
			s         domain.Step
			sendTime  sql.NullString
			sendDays  pq.Int64Array
			sendConds []byte
			skipConds []byte
		)
		if err := rows.Scan(
			&s.ID, &s.CampaignID, &s.StepNumber, &s.DelayDays, &s.DelayHours, &s.IsActive,
			&sendTime, &sendDays, &sendConds, &skipConds,
			&s.Subject, &s.HTMLBody, &s.TextBody, &s.FromName, &s.FromEmail, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if sendTime.Valid {
			tod, err := domain.ParseTimeOfDay(sendTime.String)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", s.StepNumber, err)
			}
			s.SendTime = &tod
		}
		for _, d := range sendDays {
			s.SendDays = append(s.SendDays, int(d))
		}
		if err := unmarshalRuleSet(sendConds, &s.SendConditions); err != nil {
			return nil, fmt.Errorf("step %d send conditions: %w", s.StepNumber, err)
		}
		if err := unmarshalRuleSet(skipConds, &s.SkipConditions); err != nil {
			return nil, fmt.Errorf("step %d skip conditions: %w", s.StepNumber, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) ReplaceSteps(ctx context.Context, campaignID string, steps []domain.Step) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var status domain.CampaignStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM drip_campaigns WHERE id = $1 FOR UPDATE`, campaignID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock campaign: %w", err)
	}
	if status != domain.CampaignDraft && status != domain.CampaignPaused {
		return campaign.ErrStatusConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM drip_steps WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("clear steps: %w", err)
	}
	for _, s := range steps {
		var sendTime any
		if s.SendTime != nil {
			sendTime = s.SendTime.String()
		}
		days := make(pq.Int64Array, len(s.SendDays))
		for i, d := range s.SendDays {
			days[i] = int64(d)
		}
		sendConds, err := json.Marshal(s.SendConditions)
		if err != nil {
			return fmt.Errorf("marshal send conditions: %w", err)
		}
		skipConds, err := json.Marshal(s.SkipConditions)
		if err != nil {
			return fmt.Errorf("marshal skip conditions: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO drip_steps
				(id, campaign_id, step_number, delay_days, delay_hours, is_active,
				 send_time, send_days, send_conditions, skip_conditions,
				 subject, html_body, text_body, from_name, from_email, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, s.ID, campaignID, s.StepNumber, s.DelayDays, s.DelayHours, s.IsActive,
			sendTime, days, sendConds, skipConds,
			s.Subject, s.HTMLBody, s.TextBody, s.FromName, s.FromEmail, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", s.StepNumber, err)
		}
	}
	return tx.Commit()
}

func (r *CampaignRepo) EnrollmentTotals(ctx context.Context, campaignID string) (domain.EnrollmentTotals, error) {
	var t domain.EnrollmentTotals
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(emails_sent), 0),
		       COALESCE(SUM(emails_opened), 0),
		       COALESCE(SUM(emails_clicked), 0),
		       COUNT(*) FILTER (WHERE converted),
		       COUNT(*) FILTER (WHERE status = 'unsubscribed')
		FROM drip_enrollments
		WHERE campaign_id = $1
	`, campaignID).Scan(&t.Recipients, &t.Sent, &t.Opened, &t.Clicked, &t.Converted, &t.Unsubscribed)
	if err != nil {
		return t, fmt.Errorf("enrollment totals: %w", err)
	}
	return t, nil
}

func (r *CampaignRepo) SaveTotals(ctx context.Context, campaignID string, t domain.EnrollmentTotals) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE drip_campaigns
		SET total_recipients = $1, total_sent = $2, total_opened = $3, total_clicked = $4,
		    total_converted = $5, total_unsubscribed = $6, updated_at = NOW()
		WHERE id = $7
	`, t.Recipients, t.Sent, t.Opened, t.Clicked, t.Converted, t.Unsubscribed, campaignID)
	if err != nil {
		return fmt.Errorf("save totals: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) AddCounters(ctx context.Context, campaignID string, d campaign.CounterDelta) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE drip_campaigns
		SET total_delivered = total_delivered + $1,
		    total_replied = total_replied + $2,
		    revenue = revenue + $3,
		    updated_at = NOW()
		WHERE id = $4
	`, d.Delivered, d.Replied, d.Revenue, campaignID)
	if err != nil {
		return fmt.Errorf("add counters: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func unmarshalRuleSet(raw []byte, rs *domain.RuleSet) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, rs)
}
