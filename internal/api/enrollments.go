package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/httputil"
)

// enrollRequest carries either a single recipient or a batch.
type enrollRequest struct {
	Recipient  *domain.Recipient  `json:"recipient"`
	Recipients []domain.Recipient `json:"recipients"`
	// Activate starts the new enrollment on the first step right away.
	Activate bool `json:"activate"`
}

// HandleEnroll enrolls one recipient or a batch into a campaign.
// A single enrollment answers 201 when it was created and 200 when the
// recipient was already enrolled.
//
//	POST /v1/campaigns/{id}/enrollments {"recipient":{"type":"lead","id":"42"}}
//	POST /v1/campaigns/{id}/enrollments {"recipients":[...]}
func (h *Handlers) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	ctx, campaignID := r.Context(), chi.URLParam(r, "id")

	if req.Recipient == nil {
		if len(req.Recipients) == 0 {
			httputil.BadRequest(w, "recipient or recipients is required")
			return
		}
		res, err := h.enrollments.EnrollMany(ctx, campaignID, req.Recipients)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		httputil.OK(w, res)
		return
	}

	e, created, err := h.enrollments.Enroll(ctx, campaignID, *req.Recipient)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if created && req.Activate {
		if e, err = h.enrollments.Activate(ctx, e.ID); err != nil {
			respondServiceError(w, err)
			return
		}
	}
	if created {
		httputil.Created(w, e)
		return
	}
	httputil.OK(w, e)
}

func (h *Handlers) HandleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	e, err := h.enrollments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, e)
}

// HandleReady lists enrollments due now in dispatch order. It does not
// claim them.
//
//	GET /v1/enrollments/ready?campaign_id=&limit=
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := h.enrollments.SelectReady(r.Context(), r.URL.Query().Get("campaign_id"), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Enrollment{}
	}
	httputil.OK(w, map[string]interface{}{"enrollments": list, "count": len(list)})
}

type enrollmentAction func(ctx context.Context, id string) (*domain.Enrollment, error)

func (h *Handlers) enrollmentActions() map[string]enrollmentAction {
	return map[string]enrollmentAction{
		"start":       h.enrollments.Activate,
		"pause":       h.enrollments.Pause,
		"resume":      h.enrollments.Resume,
		"unsubscribe": h.enrollments.Unsubscribe,
		"bounce":      h.enrollments.MarkBounced,
		"open":        h.enrollments.RecordOpened,
		"click":       h.enrollments.RecordClicked,
		"convert":     h.convert,
	}
}

func (h *Handlers) convert(ctx context.Context, id string) (*domain.Enrollment, error) {
	if _, err := h.enrollments.MarkConverted(ctx, id); err != nil {
		return nil, err
	}
	return h.enrollments.Get(ctx, id)
}

// HandleEnrollmentAction applies a lifecycle transition or records
// engagement on one enrollment.
//
//	POST /v1/enrollments/{id}/{start|pause|resume|unsubscribe|bounce|open|click|convert}
func (h *Handlers) HandleEnrollmentAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	fn, ok := h.enrollmentActions()[action]
	if !ok {
		httputil.NotFound(w, "unknown enrollment action "+action)
		return
	}
	e, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, e)
}
