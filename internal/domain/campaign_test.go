package domain_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
)

func TestCampaignRatesZeroDenominator(t *testing.T) {
	c := &domain.Campaign{TotalOpened: 5, TotalClicked: 2, TotalConverted: 1, TotalUnsubscribed: 1}
	rates := map[string]float64{
		"open":        c.OpenRate(),
		"click":       c.ClickThroughRate(),
		"conversion":  c.ConversionRate(),
		"unsubscribe": c.UnsubscribeRate(),
		"bounce":      c.BounceRate(),
	}
	for name, r := range rates {
		if r != 0 {
			t.Errorf("%s rate: expected 0 with zero denominator, got %v", name, r)
		}
	}
}

func TestCampaignRates(t *testing.T) {
	c := &domain.Campaign{
		TotalRecipients:   200,
		TotalSent:         100,
		TotalDelivered:    80,
		TotalOpened:       40,
		TotalClicked:      20,
		TotalUnsubscribed: 4,
		TotalConverted:    10,
	}
	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"open", c.OpenRate(), 50},
		{"click", c.ClickThroughRate(), 25},
		{"conversion", c.ConversionRate(), 5},
		{"unsubscribe", c.UnsubscribeRate(), 5},
		{"bounce", c.BounceRate(), 20},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s rate: expected %v, got %v", tc.name, tc.want, tc.got)
		}
	}

	m := c.Metrics(t0)
	if m.OpenRate != 50 || m.BounceRate != 20 || !m.ComputedAt.Equal(t0) {
		t.Fatalf("metrics snapshot mismatch: %+v", m)
	}
}

func TestCampaignGates(t *testing.T) {
	t.Run("start allowed from draft scheduled paused", func(t *testing.T) {
		for _, s := range []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignPaused} {
			c := &domain.Campaign{Status: s}
			if err := c.Start(t0); err != nil {
				t.Fatalf("start from %s: %v", s, err)
			}
			if c.Status != domain.CampaignActive || c.StartedAt == nil {
				t.Fatalf("start from %s left status %s", s, c.Status)
			}
		}
	})

	t.Run("start rejected from active", func(t *testing.T) {
		c := &domain.Campaign{Status: domain.CampaignActive}
		err := c.Start(t0)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if !strings.Contains(err.Error(), "active") {
			t.Fatalf("error should name the current status: %v", err)
		}
	})

	t.Run("pause only from active", func(t *testing.T) {
		c := &domain.Campaign{Status: domain.CampaignDraft}
		if err := c.Pause(t0); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		c.Status = domain.CampaignActive
		if err := c.Pause(t0); err != nil {
			t.Fatalf("pause: %v", err)
		}
	})

	t.Run("edit only draft or paused", func(t *testing.T) {
		for s, ok := range map[domain.CampaignStatus]bool{
			domain.CampaignDraft:     true,
			domain.CampaignPaused:    true,
			domain.CampaignActive:    false,
			domain.CampaignScheduled: false,
			domain.CampaignCompleted: false,
		} {
			c := &domain.Campaign{Status: s}
			if err := c.CheckEditable(); (err == nil) != ok {
				t.Errorf("status %s: editable=%v, err=%v", s, ok, err)
			}
		}
	})

	t.Run("complete and archive unguarded", func(t *testing.T) {
		c := &domain.Campaign{Status: domain.CampaignDraft}
		c.Complete(t0)
		if c.Status != domain.CampaignCompleted || c.EndedAt == nil {
			t.Fatalf("complete: %+v", c)
		}
		c.Archive(t0.Add(time.Hour))
		if c.Status != domain.CampaignArchived || !c.EndedAt.Equal(t0) {
			t.Fatalf("archive should keep first end time: %+v", c)
		}
		if c.CanEnroll() {
			t.Fatal("archived campaign must not accept enrollments")
		}
	})
}

func TestCampaignLocation(t *testing.T) {
	c := &domain.Campaign{}
	if c.Location() != time.UTC {
		t.Fatal("empty timezone should resolve to UTC")
	}
	c.Timezone = "Not/AZone"
	if c.Location() != time.UTC {
		t.Fatal("unknown timezone should fall back to UTC")
	}
}

func TestRecipientVariants(t *testing.T) {
	lead := domain.LeadRecipient("7")
	if lead.Type() != domain.RecipientLead || lead.ID() != "7" || lead.String() != "lead:7" {
		t.Fatalf("unexpected lead recipient %+v", lead)
	}

	data, err := json.Marshal(domain.ContactRecipient("c-9"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back domain.Recipient
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type() != domain.RecipientContact || back.ID() != "c-9" {
		t.Fatalf("round trip lost data: %s", back)
	}

	if _, err := domain.ParseRecipient("account", "1"); err == nil {
		t.Fatal("unknown recipient type should be rejected")
	}
	if _, err := domain.ParseRecipient("lead", ""); err == nil {
		t.Fatal("empty id should be rejected")
	}
}

func TestStepValidate(t *testing.T) {
	good := domain.Step{StepNumber: 1, SendDays: []int{1, 7}}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid step rejected: %v", err)
	}
	bad := []domain.Step{
		{StepNumber: 0},
		{StepNumber: 1, DelayDays: -1},
		{StepNumber: 1, SendDays: []int{8}},
	}
	for _, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("expected validation error for %+v", s)
		}
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := domain.ParseTimeOfDay("14:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tod.String() != "14:30:00" {
		t.Fatalf("expected 14:30:00, got %s", tod)
	}
	if _, err := domain.ParseTimeOfDay("25:00"); err == nil {
		t.Fatal("expected range error")
	}
	if _, err := domain.ParseTimeOfDay("noon"); err == nil {
		t.Fatal("expected parse error")
	}
}
