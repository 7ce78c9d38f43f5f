package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-clinic/meridian/internal/billing"
	"github.com/meridian-clinic/meridian/internal/money"
)

var amountFormat = money.NewFormatter("en")

// ReconcileLedger re-derives each record's paid amount from its transaction
// ledger and heals any cached value that drifted. Returns the number of
// records corrected.
func ReconcileLedger(ctx context.Context, repo billing.RepositoryPort, logger *slog.Logger) (int, error) {
	if repo == nil {
		return 0, nil
	}
	records, err := repo.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	healed := 0
	for _, rec := range records {
		probe := rec
		probe.Resync()
		if probe.Paid == rec.Paid && probe.Status == rec.Status {
			continue
		}
		err := repo.WithPatientLock(ctx, rec.PatientID, func(ctx context.Context, tx billing.TxRepository) error {
			fresh, err := tx.GetRecord(ctx, rec.ID)
			if err != nil {
				return err
			}
			if fresh == nil {
				return nil
			}
			before, beforeStatus := fresh.Paid, fresh.Status
			fresh.Resync()
			if fresh.Paid == before && fresh.Status == beforeStatus {
				return nil
			}
			if logger != nil {
				logger.Warn("ledger drift corrected",
					slog.String("job", "ledger_reconcile"),
					slog.String("record_id", fresh.ID),
					slog.String("patient_id", fresh.PatientID),
					slog.String("cached", amountFormat.Format(before)),
					slog.String("derived", amountFormat.Format(fresh.Paid)))
			}
			if err := tx.SaveRecord(ctx, fresh); err != nil {
				return err
			}
			healed++
			return nil
		})
		if err != nil {
			return healed, err
		}
	}
	if logger != nil {
		logger.Info("ledger reconcile complete",
			slog.String("job", "ledger_reconcile"),
			slog.Int("scanned", len(records)),
			slog.Int("healed", healed))
	}
	return healed, nil
}

// NewLedgerReconcileHandler returns the Asynq handler for TaskLedgerReconcile.
func NewLedgerReconcileHandler(repo billing.RepositoryPort, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ScheduledPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		_, err := ReconcileLedger(ctx, repo, logger)
		return err
	}
}
