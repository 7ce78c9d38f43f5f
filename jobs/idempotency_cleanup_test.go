package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type recordingCleaner struct {
	calls     int
	olderThan time.Duration
}

func (c *recordingCleaner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	c.calls++
	c.olderThan = olderThan
	return nil
}

func TestIdempotencyCleanupHandler(t *testing.T) {
	cleaner := &recordingCleaner{}
	handler := NewIdempotencyCleanupHandler(cleaner, 30*24*time.Hour, nil)

	task, err := NewIdempotencyCleanupTask(time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 1, cleaner.calls)
	require.Equal(t, 30*24*time.Hour, cleaner.olderThan)
}

func TestIdempotencyCleanupHandlerSkipsMalformedPayload(t *testing.T) {
	cleaner := &recordingCleaner{}
	handler := NewIdempotencyCleanupHandler(cleaner, time.Hour, nil)

	bad := asynq.NewTask(TaskIdempotencyCleanup, []byte("{"))
	err := handler(context.Background(), bad)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, cleaner.calls)
}
