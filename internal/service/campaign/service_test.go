package campaign_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/clock"
	"github.com/ignite/drip-engine/internal/repository/memory"
	"github.com/ignite/drip-engine/internal/service/campaign"
)

var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*campaign.Service, *memory.Store, *clock.Mock) {
	t.Helper()
	store := memory.NewStore()
	clk := clock.NewMock(t0)
	return campaign.NewService(store.Campaigns(), clk), store, clk
}

func mustCreate(t *testing.T, svc *campaign.Service, steps ...domain.Step) *domain.Campaign {
	t.Helper()
	c, err := svc.Create(context.Background(), campaign.CreateInput{Name: "Welcome", Steps: steps})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func TestCreate(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	c := mustCreate(t, svc,
		domain.Step{StepNumber: 2, DelayDays: 2, IsActive: true},
		domain.Step{StepNumber: 1, IsActive: true},
	)
	if c.Status != domain.CampaignDraft {
		t.Fatalf("status = %s, want draft", c.Status)
	}
	if !c.CreatedAt.Equal(t0) {
		t.Fatalf("created_at = %v, want %v", c.CreatedAt, t0)
	}

	steps, err := svc.Steps(ctx, c.ID)
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if len(steps) != 2 || steps[0].StepNumber != 1 || steps[1].StepNumber != 2 {
		t.Fatalf("steps not ordered: %+v", steps)
	}
	for _, s := range steps {
		if s.ID == "" || s.CampaignID != c.ID {
			t.Fatalf("step not prepared: %+v", s)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input campaign.CreateInput
		want  error
	}{
		{"missing name", campaign.CreateInput{}, campaign.ErrInvalidCampaign},
		{"bad timezone", campaign.CreateInput{Name: "x", Timezone: "Mars/Olympus"}, campaign.ErrInvalidCampaign},
		{"step zero", campaign.CreateInput{Name: "x", Steps: []domain.Step{{StepNumber: 0}}}, campaign.ErrInvalidStep},
		{"duplicate step", campaign.CreateInput{Name: "x", Steps: []domain.Step{{StepNumber: 1}, {StepNumber: 1}}}, campaign.ErrInvalidStep},
		{"bad send day", campaign.CreateInput{Name: "x", Steps: []domain.Step{{StepNumber: 1, SendDays: []int{8}}}}, campaign.ErrInvalidStep},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.input)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLifecycle(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	c := mustCreate(t, svc)

	if _, err := svc.Pause(ctx, c.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("pause draft: err = %v, want ErrInvalidTransition", err)
	}

	got, err := svc.Start(ctx, c.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got.Status != domain.CampaignActive || got.StartedAt == nil {
		t.Fatalf("after start: %+v", got)
	}

	if _, err := svc.Pause(ctx, c.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := svc.Start(ctx, c.ID); err != nil {
		t.Fatalf("restart from paused: %v", err)
	}

	if _, err := svc.Complete(ctx, c.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	_, err = svc.Start(ctx, c.ID)
	var te *domain.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("start completed: err = %v, want TransitionError", err)
	}
	if te.Status != "completed" || te.Action != "start" {
		t.Fatalf("transition error = %+v", te)
	}

	stored, err := svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != domain.CampaignCompleted || stored.EndedAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestScheduleOnlyFromDraft(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	c := mustCreate(t, svc)

	if _, err := svc.Schedule(ctx, c.ID); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := svc.Schedule(ctx, c.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("schedule twice: err = %v", err)
	}
	got, err := svc.Start(ctx, c.ID)
	if err != nil {
		t.Fatalf("start scheduled: %v", err)
	}
	if got.Status != domain.CampaignActive {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestEditGate(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, domain.Step{StepNumber: 1, IsActive: true})

	name := "Renamed"
	if _, err := svc.Update(ctx, c.ID, campaign.UpdateFields{Name: &name}); err != nil {
		t.Fatalf("update draft: %v", err)
	}

	if _, err := svc.Start(ctx, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Update(ctx, c.ID, campaign.UpdateFields{Name: &name}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("update active: err = %v", err)
	}
	if _, err := svc.SetSteps(ctx, c.ID, nil); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("set steps active: err = %v", err)
	}

	if _, err := svc.Pause(ctx, c.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	steps, err := svc.SetSteps(ctx, c.ID, []domain.Step{{StepNumber: 1}, {StepNumber: 2, DelayDays: 3}})
	if err != nil {
		t.Fatalf("set steps paused: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("steps = %d", len(steps))
	}

	got, err := svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Renamed" {
		t.Fatalf("name = %q", got.Name)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	c := mustCreate(t, svc)
	repo := store.Enrollments()

	for i, r := range []domain.Recipient{domain.LeadRecipient("1"), domain.LeadRecipient("2"), domain.ContactRecipient("3")} {
		e := domain.NewEnrollment(r.String(), c.ID, r, t0)
		if _, _, err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create: %v", err)
		}
		_, err := repo.Mutate(ctx, e.ID, func(e *domain.Enrollment) error {
			if err := e.Start(t0); err != nil {
				return err
			}
			for j := 0; j <= i; j++ {
				if err := e.RecordSent(t0); err != nil {
					return err
				}
			}
			if i == 0 {
				e.RecordOpened(t0)
				e.RecordClicked(t0)
			}
			if i == 2 {
				return e.Unsubscribe(t0)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Mutate: %v", err)
		}
	}
	if _, err := repo.Convert(ctx, "lead:2", t0); err != nil {
		t.Fatalf("Convert: %v", err)
	}

	first, err := svc.Recompute(ctx, c.ID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	second, err := svc.Recompute(ctx, c.ID)
	if err != nil {
		t.Fatalf("Recompute again: %v", err)
	}

	want := domain.EnrollmentTotals{Recipients: 3, Sent: 6, Opened: 1, Clicked: 1, Converted: 1, Unsubscribed: 1}
	for _, got := range []*domain.Campaign{first, second} {
		totals := domain.EnrollmentTotals{
			Recipients:   got.TotalRecipients,
			Sent:         got.TotalSent,
			Opened:       got.TotalOpened,
			Clicked:      got.TotalClicked,
			Converted:    got.TotalConverted,
			Unsubscribed: got.TotalUnsubscribed,
		}
		if totals != want {
			t.Fatalf("totals = %+v, want %+v", totals, want)
		}
	}
}

func TestMetricsRates(t *testing.T) {
	svc, store, clk := newService(t)
	ctx := context.Background()
	c := mustCreate(t, svc)

	metrics, err := svc.Metrics(ctx, c.ID)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.OpenRate != 0 || metrics.BounceRate != 0 || metrics.ConversionRate != 0 {
		t.Fatalf("empty campaign rates = %+v", metrics)
	}

	err = store.Campaigns().SaveTotals(ctx, c.ID, domain.EnrollmentTotals{Recipients: 10, Sent: 10, Opened: 4, Clicked: 2, Converted: 1})
	if err != nil {
		t.Fatalf("SaveTotals: %v", err)
	}
	if err := svc.RecordDelivered(ctx, c.ID, 8); err != nil {
		t.Fatalf("RecordDelivered: %v", err)
	}
	if err := svc.RecordReplied(ctx, c.ID, 1); err != nil {
		t.Fatalf("RecordReplied: %v", err)
	}
	if err := svc.RecordRevenue(ctx, c.ID, 49.5); err != nil {
		t.Fatalf("RecordRevenue: %v", err)
	}

	later := clk.Advance(time.Hour)
	metrics, err = svc.Metrics(ctx, c.ID)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.OpenRate != 50 {
		t.Fatalf("open rate = %v, want 50", metrics.OpenRate)
	}
	if metrics.ClickThroughRate != 25 {
		t.Fatalf("ctr = %v, want 25", metrics.ClickThroughRate)
	}
	if metrics.ConversionRate != 10 {
		t.Fatalf("conversion rate = %v, want 10", metrics.ConversionRate)
	}
	if metrics.BounceRate != 20 {
		t.Fatalf("bounce rate = %v, want 20", metrics.BounceRate)
	}
	if metrics.TotalReplied != 1 || metrics.Revenue != 49.5 {
		t.Fatalf("callback counters = %+v", metrics)
	}
	if !metrics.ComputedAt.Equal(later) {
		t.Fatalf("computed_at = %v, want %v", metrics.ComputedAt, later)
	}
}

func TestNotFound(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("Get: err = %v", err)
	}
	if _, err := svc.Start(ctx, "missing"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("Start: err = %v", err)
	}
}
