package api

import (
	"errors"
	"net/http"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/httputil"
	"github.com/ignite/drip-engine/internal/service/campaign"
	"github.com/ignite/drip-engine/internal/service/enrollment"
)

// respondServiceError maps service errors onto status codes. Anything it
// does not recognise is logged and answered with a generic 500 so store
// details never reach the caller.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, enrollment.ErrNotFound), errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, campaign.ErrStatusConflict),
		errors.Is(err, enrollment.ErrCampaignClosed),
		errors.Is(err, enrollment.ErrLeaseLost):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, enrollment.ErrInvalidRecipient),
		errors.Is(err, campaign.ErrInvalidCampaign),
		errors.Is(err, campaign.ErrInvalidStep):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
