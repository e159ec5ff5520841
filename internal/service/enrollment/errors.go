package enrollment

import "errors"

// Sentinel errors for the enrollment service layer.
var (
	ErrNotFound         = errors.New("enrollment not found")
	ErrCampaignClosed   = errors.New("campaign is not accepting enrollments")
	ErrInvalidRecipient = errors.New("recipient is required")
	ErrLeaseLost        = errors.New("enrollment lease is no longer held")
)
