package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/drip-engine/internal/condition"
	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/mailing"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/recipient"
	"github.com/ignite/drip-engine/internal/sequence"
	"github.com/ignite/drip-engine/internal/service/enrollment"
	"github.com/ignite/drip-engine/internal/tracking"
)

// DispatcherConfig tunes the poll loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	// CampaignID limits the dispatcher to one campaign when set.
	CampaignID string
	// WorkerID names the lease owner. Generated when empty.
	WorkerID string

	// Defaults for steps that carry no sender of their own.
	FromEmail string
	FromName  string

	// Tracking, when set, exposes unsubscribe_url and open_pixel_url to
	// step templates.
	Tracking *tracking.Links
}

// DispatchStats counts what the dispatcher has done since it was created.
type DispatchStats struct {
	Sent      int64 `json:"sent"`
	Skipped   int64 `json:"skipped"`
	Completed int64 `json:"completed"`
	Bounced   int64 `json:"bounced"`
	Failed    int64 `json:"failed"`
}

// Dispatcher claims due enrollments, sends their current step and advances
// them. Several dispatchers may run against the same store; leases keep
// them from firing the same enrollment twice.
type Dispatcher struct {
	enrollments *enrollment.Service
	campaigns   enrollment.CampaignStore
	resolver    recipient.Resolver
	renderer    *mailing.Renderer
	mailer      mailing.Mailer
	cfg         DispatcherConfig

	sent      int64
	skipped   int64
	completed int64
	bounced   int64
	failed    int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewDispatcher wires a dispatcher. Zero config values get defaults.
func NewDispatcher(enrollments *enrollment.Service, campaigns enrollment.CampaignStore,
	resolver recipient.Resolver, renderer *mailing.Renderer, mailer mailing.Mailer, cfg DispatcherConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = fmt.Sprintf("dispatch-%s", uuid.New().String()[:8])
	}
	if renderer == nil {
		renderer = mailing.NewRenderer()
	}
	return &Dispatcher{
		enrollments: enrollments,
		campaigns:   campaigns,
		resolver:    resolver,
		renderer:    renderer,
		mailer:      mailer,
		cfg:         cfg,
	}
}

// WorkerID returns the lease owner name.
func (d *Dispatcher) WorkerID() string { return d.cfg.WorkerID }

// Start begins polling in the background.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	log.Printf("Dispatcher: Starting worker %s (interval %s, batch %d)", d.cfg.WorkerID, d.cfg.PollInterval, d.cfg.BatchSize)

	d.wg.Add(1)
	go d.loop()
}

// Stop cancels polling and waits up to 30 seconds for the current batch.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("Dispatcher: Shutdown timeout - forcing stop")
	}

	s := d.Stats()
	log.Printf("Dispatcher: Stopped. Sent: %d, Skipped: %d, Completed: %d, Bounced: %d, Failed: %d",
		s.Sent, s.Skipped, s.Completed, s.Bounced, s.Failed)
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Sent:      atomic.LoadInt64(&d.sent),
		Skipped:   atomic.LoadInt64(&d.skipped),
		Completed: atomic.LoadInt64(&d.completed),
		Bounced:   atomic.LoadInt64(&d.bounced),
		Failed:    atomic.LoadInt64(&d.failed),
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
			if _, err := d.Poll(ctx); err != nil {
				logger.Error("dispatch poll failed", "worker_id", d.cfg.WorkerID, "error", err)
			}
			cancel()
		}
	}
}

type campaignData struct {
	campaign *domain.Campaign
	steps    []domain.Step
}

// Poll claims one batch and processes it. It returns how many enrollments
// were claimed.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	claimed, err := d.enrollments.ClaimReady(ctx, d.cfg.WorkerID, d.cfg.CampaignID, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return 0, err
	}

	loaded := make(map[string]*campaignData)
	for i := range claimed {
		e := &claimed[i]
		if ctx.Err() != nil {
			d.release(e.ID)
			continue
		}
		cd, ok := loaded[e.CampaignID]
		if !ok {
			cd, err = d.loadCampaign(ctx, e.CampaignID)
			if err != nil {
				logger.Error("load campaign for dispatch", "campaign_id", e.CampaignID, "error", err)
			}
			loaded[e.CampaignID] = cd
		}
		if cd == nil {
			atomic.AddInt64(&d.failed, 1)
			d.release(e.ID)
			continue
		}
		d.process(ctx, e, cd)
	}
	return len(claimed), nil
}

func (d *Dispatcher) loadCampaign(ctx context.Context, id string) (*campaignData, error) {
	c, err := d.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := d.campaigns.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	return &campaignData{campaign: c, steps: steps}, nil
}

func (d *Dispatcher) process(ctx context.Context, e *domain.Enrollment, cd *campaignData) {
	firing := enrollment.Firing{EnrollmentID: e.ID, WorkerID: d.cfg.WorkerID, Campaign: cd.campaign, Steps: cd.steps}

	step := findStep(cd.steps, e.CurrentStep)
	if step == nil {
		// The step was removed or deactivated after the enrollment was
		// positioned on it.
		d.advance(ctx, e, firing, false, "step unavailable")
		return
	}

	contact, err := d.resolver.Resolve(ctx, e.Recipient)
	if err != nil {
		logger.Warn("resolve recipient failed", "enrollment_id", e.ID, "recipient", e.Recipient.String(), "error", err)
		atomic.AddInt64(&d.failed, 1)
		d.release(e.ID)
		return
	}

	attrs := conditionAttributes(e, contact)
	if dec := condition.Decide(*step, attrs); !dec.Send {
		d.advance(ctx, e, firing, false, dec.Reason)
		return
	}

	msg, err := d.compose(e, cd.campaign, step, contact, attrs)
	if err != nil {
		logger.Error("render step failed", "enrollment_id", e.ID, "step", step.StepNumber, "error", err)
		atomic.AddInt64(&d.failed, 1)
		d.release(e.ID)
		return
	}

	res, err := d.mailer.Send(ctx, msg)
	switch {
	case errors.Is(err, mailing.ErrRejected):
		logger.Warn("message rejected, marking bounced", "enrollment_id", e.ID, "to", msg.To, "error", err)
		if _, berr := d.enrollments.MarkBounced(ctx, e.ID); berr != nil {
			logger.Error("mark bounced failed", "enrollment_id", e.ID, "error", berr)
			atomic.AddInt64(&d.failed, 1)
		} else {
			atomic.AddInt64(&d.bounced, 1)
		}
		d.release(e.ID)
		return
	case err != nil:
		logger.Warn("send failed, will retry", "enrollment_id", e.ID, "step", step.StepNumber, "error", err)
		atomic.AddInt64(&d.failed, 1)
		d.release(e.ID)
		return
	}

	logger.Debug("step sent", "enrollment_id", e.ID, "step", step.StepNumber, "message_id", res.MessageID, "transport", res.Transport)
	d.advance(ctx, e, firing, true, "")
}

func (d *Dispatcher) advance(ctx context.Context, e *domain.Enrollment, f enrollment.Firing, sent bool, reason string) {
	var (
		out  sequence.Outcome
		err  error
		verb = "advance after send"
	)
	if sent {
		out, err = d.enrollments.AdvanceAfterSend(ctx, f)
	} else {
		verb = "skip step"
		out, err = d.enrollments.SkipCurrentStep(ctx, f)
	}
	if err != nil {
		if errors.Is(err, enrollment.ErrLeaseLost) {
			logger.Warn("lease lost before advancing", "enrollment_id", e.ID, "worker_id", d.cfg.WorkerID)
		} else {
			logger.Error(verb+" failed", "enrollment_id", e.ID, "error", err)
			d.release(e.ID)
		}
		atomic.AddInt64(&d.failed, 1)
		return
	}

	if sent {
		atomic.AddInt64(&d.sent, 1)
	} else {
		atomic.AddInt64(&d.skipped, 1)
		logger.Info("step skipped", "enrollment_id", e.ID, "step", e.CurrentStep, "reason", reason)
	}
	if out.Completed {
		atomic.AddInt64(&d.completed, 1)
	}
}

// release frees the lease on a fresh context so a cancelled poll does not
// leave rows claimed until the lease expires.
func (d *Dispatcher) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.enrollments.Release(ctx, id, d.cfg.WorkerID); err != nil && !errors.Is(err, enrollment.ErrLeaseLost) {
		logger.Error("release lease failed", "enrollment_id", id, "error", err)
	}
}

func (d *Dispatcher) compose(e *domain.Enrollment, c *domain.Campaign, step *domain.Step,
	contact *recipient.Contact, attrs map[string]interface{}) (*mailing.Message, error) {
	bindings := make(map[string]interface{}, len(attrs)+2)
	for k, v := range attrs {
		bindings[k] = v
	}
	bindings["campaign_name"] = c.Name
	bindings["step_number"] = step.StepNumber
	if d.cfg.Tracking != nil {
		bindings["unsubscribe_url"] = d.cfg.Tracking.UnsubscribeURL(e.ID)
		bindings["open_pixel_url"] = d.cfg.Tracking.OpenURL(e.ID)
	}

	content, err := d.renderer.Render(mailing.Template{
		Key:     templateKey(step),
		Subject: step.Subject,
		HTML:    step.HTMLBody,
		Text:    step.TextBody,
	}, bindings)
	if err != nil {
		return nil, err
	}

	msg := &mailing.Message{
		IdempotencyKey: mailing.IdempotencyKey(e.ID, step.StepNumber),
		EnrollmentID:   e.ID,
		CampaignID:     c.ID,
		StepNumber:     step.StepNumber,
		To:             contact.Email,
		ToName:         contact.Name,
		FromEmail:      step.FromEmail,
		FromName:       step.FromName,
		Subject:        content.Subject,
		HTMLBody:       content.HTML,
		TextBody:       content.Text,
	}
	if msg.FromEmail == "" {
		msg.FromEmail = d.cfg.FromEmail
	}
	if msg.FromName == "" {
		msg.FromName = d.cfg.FromName
	}
	return msg, nil
}

// conditionAttributes merges contact data with the enrollment's engagement
// so rules can reference either.
func conditionAttributes(e *domain.Enrollment, c *recipient.Contact) map[string]interface{} {
	attrs := c.Bindings()
	attrs["recipient_type"] = string(e.Recipient.Type())
	attrs["enrollment_id"] = e.ID
	attrs["current_step"] = e.CurrentStep
	attrs["emails_sent"] = e.EmailsSent
	attrs["emails_opened"] = e.EmailsOpened
	attrs["emails_clicked"] = e.EmailsClicked
	attrs["converted"] = e.Converted
	return attrs
}

func findStep(steps []domain.Step, number int) *domain.Step {
	for i := range steps {
		if steps[i].StepNumber == number && steps[i].IsActive {
			return &steps[i]
		}
	}
	return nil
}

// templateKey changes whenever the step is edited so the renderer's parse
// cache never serves stale content.
func templateKey(s *domain.Step) string {
	return fmt.Sprintf("%s/%d/%s@%s", s.CampaignID, s.StepNumber, s.ID, strconv.FormatInt(s.UpdatedAt.UnixNano(), 10))
}
