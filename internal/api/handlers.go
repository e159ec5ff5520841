// Package api exposes the campaign controller and enrollment operations over
// HTTP for collaborators that do not share the process.
package api

import (
	"github.com/ignite/drip-engine/internal/service/campaign"
	"github.com/ignite/drip-engine/internal/service/enrollment"
	"github.com/ignite/drip-engine/internal/storage"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	campaigns   *campaign.Service
	enrollments *enrollment.Service
	snapshots   storage.SnapshotStore
}

// NewHandlers creates a new Handlers instance
func NewHandlers(campaigns *campaign.Service, enrollments *enrollment.Service) *Handlers {
	return &Handlers{campaigns: campaigns, enrollments: enrollments}
}

// SetSnapshots enables the archived metrics endpoint.
func (h *Handlers) SetSnapshots(s storage.SnapshotStore) {
	h.snapshots = s
}
