package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-clinic/meridian/internal/billing"
)

// SnapshotBalances projects every patient balance and writes one snapshot
// row per patient, stamped with the run time.
func SnapshotBalances(ctx context.Context, svc *billing.Service, pool *pgxpool.Pool, logger *slog.Logger) error {
	if svc == nil || pool == nil {
		return nil
	}
	balances, err := svc.ProjectAllBalances(ctx)
	if err != nil {
		return err
	}
	takenAt := time.Now().UTC()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, bal := range balances {
		bal := bal
		g.Go(func() error {
			_, err := pool.Exec(ctx, `INSERT INTO balance_snapshots (patient_id, total_debt_cents, total_paid_cents, remaining_cents, taken_at)
VALUES ($1, $2, $3, $4, $5)`,
				bal.PatientID, int64(bal.TotalDebt), int64(bal.TotalPaid), int64(bal.RemainingBalance), takenAt)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("balance snapshot complete",
			slog.String("job", "balance_snapshot"),
			slog.Int("patients", len(balances)))
	}
	return nil
}

// NewBalanceSnapshotHandler returns the Asynq handler for TaskBalanceSnapshot.
func NewBalanceSnapshotHandler(svc *billing.Service, pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ScheduledPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return SnapshotBalances(ctx, svc, pool, logger)
	}
}
