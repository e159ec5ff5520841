package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/httputil"
	"github.com/ignite/drip-engine/internal/service/campaign"
	"github.com/ignite/drip-engine/internal/storage"
)

// HandleListCampaigns lists campaigns, optionally filtered by a
// comma-separated status list.
//
//	GET /v1/campaigns?status=active,paused&page=1&limit=50
func (h *Handlers) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r, 50, 200)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	f := campaign.ListFilter{Limit: p.Limit, Offset: p.offset()}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, domain.CampaignStatus(strings.TrimSpace(s)))
		}
	}

	list, total, err := h.campaigns.List(r.Context(), f)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, newCampaignPage(list, p, total))
}

// HandleCreateCampaign creates a draft campaign with its steps.
//
//	POST /v1/campaigns
func (h *Handlers) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, c)
}

func (h *Handlers) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// HandleUpdateCampaign edits a draft or paused campaign.
//
//	PATCH /v1/campaigns/{id}
func (h *Handlers) HandleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var u campaign.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}
	c, err := h.campaigns.Update(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) HandleGetSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.campaigns.Get(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	steps, err := h.campaigns.Steps(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if steps == nil {
		steps = []domain.Step{}
	}
	httputil.OK(w, map[string]interface{}{"steps": steps})
}

// HandleSetSteps replaces the whole step list.
//
//	PUT /v1/campaigns/{id}/steps
func (h *Handlers) HandleSetSteps(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Steps []domain.Step `json:"steps"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	steps, err := h.campaigns.SetSteps(r.Context(), chi.URLParam(r, "id"), body.Steps)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"steps": steps})
}

type campaignAction func(ctx context.Context, id string) (*domain.Campaign, error)

func (h *Handlers) campaignActions() map[string]campaignAction {
	return map[string]campaignAction{
		"start":     h.campaigns.Start,
		"pause":     h.campaigns.Pause,
		"schedule":  h.campaigns.Schedule,
		"complete":  h.campaigns.Complete,
		"archive":   h.campaigns.Archive,
		"recompute": h.campaigns.Recompute,
	}
}

// HandleCampaignAction applies a lifecycle transition or a metrics recompute.
//
//	POST /v1/campaigns/{id}/{start|pause|schedule|complete|archive|recompute}
func (h *Handlers) HandleCampaignAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	fn, ok := h.campaignActions()[action]
	if !ok {
		httputil.NotFound(w, "unknown campaign action "+action)
		return
	}
	c, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) HandleCampaignMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.campaigns.Metrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, m)
}

// HandleLatestSnapshot returns the metrics archived by the last rollup.
//
//	GET /v1/campaigns/{id}/snapshot
func (h *Handlers) HandleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		httputil.NotFound(w, "snapshot storage is not configured")
		return
	}
	m, err := h.snapshots.Latest(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, m)
}

// HandleAddCounters feeds delivery, reply and revenue callbacks into the
// campaign counters.
//
//	POST /v1/campaigns/{id}/counters {"delivered":1,"replied":0,"revenue":12.5}
func (h *Handlers) HandleAddCounters(w http.ResponseWriter, r *http.Request) {
	var d campaign.CounterDelta
	if !httputil.Decode(w, r, &d) {
		return
	}
	if d.Delivered < 0 || d.Replied < 0 {
		httputil.BadRequest(w, "counters cannot decrease")
		return
	}

	ctx, id := r.Context(), chi.URLParam(r, "id")
	if d.Delivered > 0 {
		if err := h.campaigns.RecordDelivered(ctx, id, d.Delivered); err != nil {
			respondServiceError(w, err)
			return
		}
	}
	if d.Replied > 0 {
		if err := h.campaigns.RecordReplied(ctx, id, d.Replied); err != nil {
			respondServiceError(w, err)
			return
		}
	}
	if d.Revenue != 0 {
		if err := h.campaigns.RecordRevenue(ctx, id, d.Revenue); err != nil {
			respondServiceError(w, err)
			return
		}
	}
	h.HandleCampaignMetrics(w, r)
}
