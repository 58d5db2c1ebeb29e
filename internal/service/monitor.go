package service

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/gradebook/records-api/internal/store"
	"github.com/gradebook/records-api/internal/store/model"
	"github.com/gradebook/records-api/pkg/metrics"
)

// JobMonitor refreshes the job gauges. A job is stale when it is still
// pending or processing and has not been touched for staleAfter.
type JobMonitor struct {
	store      store.Store
	interval   time.Duration
	staleAfter time.Duration
}

func NewJobMonitor(s store.Store, interval, staleAfter time.Duration) *JobMonitor {
	return &JobMonitor{store: s, interval: interval, staleAfter: staleAfter}
}

// Run refreshes the gauges until ctx is done.
func (m *JobMonitor) Run(ctx context.Context) {
	ticker := jitterbug.New(m.interval, &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0})
	defer ticker.Stop()

	m.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.Refresh(ctx)
	}
}

func (m *JobMonitor) Refresh(ctx context.Context) {
	logger := zap.S().Named("job_monitor")

	counts, err := m.store.Job().CountByStatus(ctx)
	if err != nil {
		logger.Warnw("failed to count jobs by status", "error", err)
		return
	}
	for _, status := range []model.JobStatus{model.JobStatusPending, model.JobStatusProcessing, model.JobStatusCompleted, model.JobStatusFailed} {
		metrics.UpdateJobStatusCountMetric(string(status), counts[status])
	}

	stale, err := m.store.Job().CountStale(ctx, time.Now().Add(-m.staleAfter))
	if err != nil {
		logger.Warnw("failed to count stale jobs", "error", err)
		return
	}
	metrics.UpdateStaleJobsCountMetric(stale)
	if stale > 0 {
		logger.Warnw("jobs without progress", "count", stale, "stale_after", m.staleAfter)
	}
}
