package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-scm/meridian-scm/internal/jobs"
)

// StaleApprovalScanJob reports documents that have been waiting on a human
// decision for too long. In-transit stock belongs to nobody until the
// destination confirms, so a forgotten shipment is an operational problem
// worth paging on.
type StaleApprovalScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStaleApprovalScanJob initialises the stale scan handler.
func NewStaleApprovalScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *StaleApprovalScanJob {
	return &StaleApprovalScanJob{Pool: pool, Logger: logger, Metrics: metrics}
}

type staleQuery struct {
	module string
	sql    string
}

// Handle executes the stale document scan.
func (j *StaleApprovalScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("stale approval scan: handler not configured")
	}
	var payload StaleApprovalScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ThresholdHours <= 0 {
		payload.ThresholdHours = 48
	}
	cutoff := time.Now().UTC().Add(-time.Duration(payload.ThresholdHours) * time.Hour)

	tracker := j.metrics().Track(TaskStaleApprovalScan)
	logger := j.logger().With(slog.Int("threshold_hours", payload.ThresholdHours))

	queries := []staleQuery{
		{module: "transfer", sql: `SELECT transfer_number, status, updated_at FROM transfers
WHERE status IN ('SUBMITTED', 'ADMIN_APPROVED', 'CONFIRMED', 'SHIPPED') AND updated_at < $1`},
		{module: "stockrequest", sql: `SELECT order_number, status, updated_at FROM stock_requests
WHERE status IN ('SUBMITTED', 'CONFIRMED', 'SHIPPED') AND updated_at < $1`},
		{module: "usage", sql: `SELECT usage_number, status, updated_at FROM stock_usages
WHERE status = 'PENDING' AND updated_at < $1`},
		{module: "damagereturn", sql: `SELECT serial_number, status, updated_at FROM damage_returns
WHERE status = 'PENDING' AND updated_at < $1`},
	}

	total := 0
	for _, q := range queries {
		count, err := j.reportStale(ctx, logger, q, cutoff)
		if err != nil {
			logger.Error("stale scan failed", slog.String("module", q.module), slog.Any("error", err))
			return tracker.End(err)
		}
		total += count
	}
	logger.Info("completed stale approval scan", slog.Int("stale", total))
	return tracker.End(nil)
}

func (j *StaleApprovalScanJob) reportStale(ctx context.Context, logger *slog.Logger, q staleQuery, cutoff time.Time) (int, error) {
	rows, err := j.Pool.Query(ctx, q.sql, cutoff)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var number, status string
		var updatedAt time.Time
		if err := rows.Scan(&number, &status, &updatedAt); err != nil {
			return 0, err
		}
		count++
		logger.Warn("document waiting too long",
			slog.String("module", q.module),
			slog.String("number", number),
			slog.String("status", status),
			slog.Time("updated_at", updatedAt),
		)
	}
	if count > 0 {
		j.metrics().AddFindings("stale_"+q.module, 0, count)
	}
	return count, rows.Err()
}

func (j *StaleApprovalScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStaleApprovalScan))
	}
	return slog.Default().With(slog.String("job", TaskStaleApprovalScan))
}

func (j *StaleApprovalScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
