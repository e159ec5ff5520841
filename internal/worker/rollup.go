package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/clock"
	"github.com/ignite/drip-engine/internal/pkg/distlock"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/service/campaign"
	"github.com/ignite/drip-engine/internal/storage"
)

// RollupLockKey is the distlock key shared by all rollup workers.
const RollupLockKey = "rollup:campaign-metrics"

const rollupPageSize = 100

// RollupWorker periodically recomputes the enrollment-derived counters of
// every active or paused campaign and archives a metrics snapshot. Only one
// worker across the fleet runs per tick.
type RollupWorker struct {
	campaigns *campaign.Service
	snapshots storage.SnapshotStore
	lock      distlock.DistLock
	interval  time.Duration
	clock     clock.Clock

	runs       int64
	contended  int64
	recomputed int64
	failed     int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewRollupWorker creates a rollup worker. snapshots may be nil to skip
// archiving.
func NewRollupWorker(campaigns *campaign.Service, snapshots storage.SnapshotStore, lock distlock.DistLock, interval time.Duration, clk clock.Clock) *RollupWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &RollupWorker{
		campaigns: campaigns,
		snapshots: snapshots,
		lock:      lock,
		interval:  interval,
		clock:     clk,
	}
}

// Start begins the rollup loop.
func (w *RollupWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	log.Printf("RollupWorker: Starting (interval %s)", w.interval)
	w.wg.Add(1)
	go w.runLoop()
}

// Stop halts the loop and waits for an in-progress rollup.
func (w *RollupWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	log.Printf("RollupWorker: Stopped. Runs: %d, Recomputed: %d, Failed: %d",
		atomic.LoadInt64(&w.runs), atomic.LoadInt64(&w.recomputed), atomic.LoadInt64(&w.failed))
}

func (w *RollupWorker) runLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(w.ctx); err != nil {
				logger.Error("metrics rollup failed", "error", err)
			}
		}
	}
}

// RunOnce performs one rollup if the lock is free. It reports whether this
// worker did the work.
func (w *RollupWorker) RunOnce(ctx context.Context) (bool, error) {
	ran, err := distlock.Run(ctx, w.lock, w.rollupAll)
	if err != nil {
		return ran, err
	}
	if !ran {
		atomic.AddInt64(&w.contended, 1)
		logger.Debug("metrics rollup skipped, lock held elsewhere")
		return false, nil
	}
	atomic.AddInt64(&w.runs, 1)
	return true, nil
}

func (w *RollupWorker) rollupAll(ctx context.Context) error {
	filter := campaign.ListFilter{
		Statuses: []domain.CampaignStatus{domain.CampaignActive, domain.CampaignPaused},
		Limit:    rollupPageSize,
	}
	var failures int
	for {
		page, _, err := w.campaigns.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("list campaigns: %w", err)
		}
		for i := range page {
			if err := w.rollup(ctx, page[i].ID); err != nil {
				failures++
				atomic.AddInt64(&w.failed, 1)
				logger.Error("campaign rollup failed", "campaign_id", page[i].ID, "error", err)
				continue
			}
			atomic.AddInt64(&w.recomputed, 1)
		}
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += filter.Limit
	}
	if failures > 0 {
		return fmt.Errorf("%d campaign rollups failed", failures)
	}
	return nil
}

func (w *RollupWorker) rollup(ctx context.Context, id string) error {
	c, err := w.campaigns.Recompute(ctx, id)
	if err != nil {
		return err
	}
	if w.snapshots == nil {
		return nil
	}
	if err := w.snapshots.Save(ctx, c.Metrics(w.clock.Now())); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// RollupStats reports the worker's counters.
type RollupStats struct {
	Runs       int64 `json:"runs"`
	Contended  int64 `json:"contended"`
	Recomputed int64 `json:"recomputed"`
	Failed     int64 `json:"failed"`
}

// Stats returns a snapshot of the counters.
func (w *RollupWorker) Stats() RollupStats {
	return RollupStats{
		Runs:       atomic.LoadInt64(&w.runs),
		Contended:  atomic.LoadInt64(&w.contended),
		Recomputed: atomic.LoadInt64(&w.recomputed),
		Failed:     atomic.LoadInt64(&w.failed),
	}
}
