package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// IdempotencyCleaner removes processed keys older than the retention window.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupHandler returns the Asynq handler for
// TaskIdempotencyCleanup. Keys older than retention are deleted; clients
// cannot retry a payment that far back anyway.
func NewIdempotencyCleanupHandler(store IdempotencyCleaner, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ScheduledPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if store == nil {
			return nil
		}
		if err := store.Cleanup(ctx, retention); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("idempotency cleanup complete",
				slog.String("job", "idempotency_cleanup"),
				slog.Duration("retention", retention))
		}
		return nil
	}
}
