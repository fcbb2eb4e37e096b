package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrityScan verifies the ledger invariants across locations.
	TaskLedgerIntegrityScan = "ledger:integrity_scan"
	// TaskIdempotencyCleanup prunes processed idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
	// TaskStaleApprovalScan reports documents stuck in intermediate statuses.
	TaskStaleApprovalScan = "approval:stale_scan"
)

// IntegrityScanPayload configures one ledger integrity run.
type IntegrityScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIntegrityScanTask constructs an Asynq task for the integrity scan.
func NewIntegrityScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrityScan, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload configures the key retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// StaleApprovalScanPayload configures how old a waiting document must be
// before it is reported.
type StaleApprovalScanPayload struct {
	ThresholdHours int `json:"threshold_hours"`
}

// NewStaleApprovalScanTask constructs an Asynq task for the stale scan.
func NewStaleApprovalScanTask(thresholdHours int) (*asynq.Task, error) {
	body, err := json.Marshal(StaleApprovalScanPayload{ThresholdHours: thresholdHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStaleApprovalScan, body, asynq.Queue(QueueDefault)), nil
}
