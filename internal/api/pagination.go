package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ignite/drip-engine/internal/domain"
)

// pageRequest is a 1-based page of a listing.
type pageRequest struct {
	Page  int
	Limit int
}

func (p pageRequest) offset() int { return (p.Page - 1) * p.Limit }

// parsePage reads ?page= and ?limit=. Absent values fall back to page 1 and
// defaultLimit; limit is capped at maxLimit. Non-numeric or non-positive
// values are rejected.
func parsePage(r *http.Request, defaultLimit, maxLimit int) (pageRequest, error) {
	p := pageRequest{Page: 1, Limit: defaultLimit}
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, fmt.Errorf("page must be a positive integer")
		}
		p.Page = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, fmt.Errorf("limit must be a positive integer")
		}
		p.Limit = n
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p, nil
}

// CampaignPage is one page of the campaign listing.
type CampaignPage struct {
	Campaigns []domain.Campaign `json:"campaigns"`
	Page      int               `json:"page"`
	Limit     int               `json:"limit"`
	Total     int               `json:"total"`
	HasMore   bool              `json:"has_more"`
}

func newCampaignPage(list []domain.Campaign, p pageRequest, total int) CampaignPage {
	if list == nil {
		list = []domain.Campaign{}
	}
	return CampaignPage{
		Campaigns: list,
		Page:      p.Page,
		Limit:     p.Limit,
		Total:     total,
		HasMore:   p.offset()+len(list) < total,
	}
}
