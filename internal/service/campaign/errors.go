package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound        = errors.New("campaign not found")
	ErrStatusConflict  = errors.New("campaign status changed concurrently")
	ErrInvalidStep     = errors.New("invalid campaign step")
	ErrInvalidCampaign = errors.New("invalid campaign")
)
