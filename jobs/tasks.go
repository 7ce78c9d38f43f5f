package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBalanceSnapshot persists nightly balance projections.
	TaskBalanceSnapshot = "billing:balance_snapshot"
	// TaskLedgerReconcile scans records for paid-amount drift.
	TaskLedgerReconcile = "billing:ledger_reconcile"
	// TaskIdempotencyCleanup expires old idempotency keys.
	TaskIdempotencyCleanup = "billing:idempotency_cleanup"
)

// ScheduledPayload carries scheduling metadata shared by the billing jobs.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewBalanceSnapshotTask constructs an Asynq task for the snapshot job.
func NewBalanceSnapshotTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceSnapshot, body, asynq.Queue(QueueDefault)), nil
}

// NewLedgerReconcileTask constructs an Asynq task for the reconcile job.
func NewLedgerReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task for the key-retention job.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
