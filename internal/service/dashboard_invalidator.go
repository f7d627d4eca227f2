package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academic-requests-api/pkg/jobs"
)

const invalidateJobType = "dashboard.invalidate"

// DashboardInvalidator drops cached dashboard summaries after request changes.
// Work runs on a background queue; bursts of changes collapse into one job.
type DashboardInvalidator struct {
	cache  *CacheService
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewDashboardInvalidator builds the invalidator and its queue.
func NewDashboardInvalidator(cache *CacheService, cfg jobs.QueueConfig, logger *zap.Logger) *DashboardInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	inv := &DashboardInvalidator{cache: cache, logger: logger}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	inv.queue = jobs.NewQueue("dashboard-cache", inv.handle, cfg)
	return inv
}

// Start launches the background workers.
func (d *DashboardInvalidator) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for in-flight invalidations to finish.
func (d *DashboardInvalidator) Stop() {
	d.queue.Stop()
}

// RequestChanged implements RequestChangeListener.
func (d *DashboardInvalidator) RequestChanged(ctx context.Context, requestID int64) {
	if !d.cache.Enabled() {
		return
	}
	err := d.queue.Enqueue(jobs.Job{Type: invalidateJobType, Key: dashboardCachePattern, Payload: requestID})
	if err == nil {
		return
	}
	d.logger.Warn("dashboard invalidation not queued, running inline", zap.Int64("request_id", requestID), zap.Error(err))
	inline, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.cache.Invalidate(inline, dashboardCachePattern); err != nil {
		d.logger.Error("inline dashboard invalidation failed", zap.Int64("request_id", requestID), zap.Error(err))
	}
}

func (d *DashboardInvalidator) handle(ctx context.Context, job jobs.Job) error {
	return d.cache.Invalidate(ctx, dashboardCachePattern)
}
