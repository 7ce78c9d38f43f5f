package jobs

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-clinic/meridian/internal/billing"
	"github.com/meridian-clinic/meridian/internal/money"
)

type stubRepo struct {
	mu      sync.Mutex
	records map[string]*billing.BillingRecord
	order   []string
}

func newStubRepo() *stubRepo {
	return &stubRepo{records: map[string]*billing.BillingRecord{}}
}

func (r *stubRepo) add(rec billing.BillingRecord) {
	c := rec
	r.records[rec.ID] = &c
	r.order = append(r.order, rec.ID)
}

func (r *stubRepo) WithPatientLock(ctx context.Context, patientID string, fn func(ctx context.Context, tx billing.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, r)
}

func (r *stubRepo) ListOutstanding(ctx context.Context, patientID string) ([]billing.BillingRecord, error) {
	return r.ListByPatient(ctx, patientID)
}

func (r *stubRepo) FindByTransactionID(ctx context.Context, patientID, transactionID string) (*billing.BillingRecord, error) {
	for _, id := range r.order {
		rec := r.records[id]
		if rec.PatientID == patientID && rec.FindTransaction(transactionID) >= 0 {
			c := *rec
			return &c, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) GetRecord(ctx context.Context, id string) (*billing.BillingRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (r *stubRepo) CreateRecord(ctx context.Context, rec *billing.BillingRecord) error {
	r.add(*rec)
	return nil
}

func (r *stubRepo) SaveRecord(ctx context.Context, rec *billing.BillingRecord) error {
	c := *rec
	r.records[rec.ID] = &c
	return nil
}

func (r *stubRepo) ListByPatient(ctx context.Context, patientID string) ([]billing.BillingRecord, error) {
	var out []billing.BillingRecord
	for _, id := range r.order {
		if r.records[id].PatientID == patientID {
			out = append(out, *r.records[id])
		}
	}
	return out, nil
}

func (r *stubRepo) ListAll(ctx context.Context) ([]billing.BillingRecord, error) {
	var out []billing.BillingRecord
	for _, id := range r.order {
		out = append(out, *r.records[id])
	}
	return out, nil
}

func (r *stubRepo) DeleteRecord(ctx context.Context, id string) error {
	delete(r.records, id)
	return nil
}

func TestReconcileLedgerHealsDrift(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepo()

	repo.add(billing.BillingRecord{
		ID:        "rec-ok",
		PatientID: "patient-1",
		Total:     money.FromUnits(100, 0),
		Paid:      money.FromUnits(40, 0),
		Status:    billing.StatusPartial,
		Transactions: []billing.Transaction{
			{ID: "t1", Total: money.FromUnits(40, 0)},
		},
	})
	repo.add(billing.BillingRecord{
		ID:        "rec-drifted",
		PatientID: "patient-1",
		Total:     money.FromUnits(100, 0),
		Paid:      money.FromUnits(99, 0),
		Status:    billing.StatusPartial,
		Transactions: []billing.Transaction{
			{ID: "t2", Total: money.FromUnits(25, 0)},
		},
	})

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	healed, err := ReconcileLedger(ctx, repo, logger)
	require.NoError(t, err)
	require.Equal(t, 1, healed)

	fixed, err := repo.GetRecord(ctx, "rec-drifted")
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(25, 0), fixed.Paid)
	require.Equal(t, billing.StatusPartial, fixed.Status)

	untouched, err := repo.GetRecord(ctx, "rec-ok")
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(40, 0), untouched.Paid)

	// The drift log renders amounts for humans, not raw cents.
	require.Contains(t, logs.String(), "cached=99.00")
	require.Contains(t, logs.String(), "derived=25.00")
}

// staleListRepo serves an outdated snapshot from ListAll while the locked
// re-read sees the records already consistent.
type staleListRepo struct {
	*stubRepo
	stale []billing.BillingRecord
}

func (r *staleListRepo) ListAll(ctx context.Context) ([]billing.BillingRecord, error) {
	return r.stale, nil
}

func TestReconcileLedgerCountsOnlySavedRecords(t *testing.T) {
	ctx := context.Background()
	inner := newStubRepo()
	inner.add(billing.BillingRecord{
		ID:        "rec-1",
		PatientID: "patient-1",
		Total:     money.FromUnits(100, 0),
		Paid:      money.FromUnits(25, 0),
		Status:    billing.StatusPartial,
		Transactions: []billing.Transaction{
			{ID: "t1", Total: money.FromUnits(25, 0)},
		},
	})

	stale := billing.BillingRecord{
		ID:        "rec-1",
		PatientID: "patient-1",
		Total:     money.FromUnits(100, 0),
		Paid:      money.FromUnits(99, 0), // drifted in the snapshot only
		Status:    billing.StatusPartial,
		Transactions: []billing.Transaction{
			{ID: "t1", Total: money.FromUnits(25, 0)},
		},
	}
	deleted := billing.BillingRecord{
		ID:        "rec-gone",
		PatientID: "patient-1",
		Total:     money.FromUnits(50, 0),
		Paid:      money.FromUnits(49, 0),
		Status:    billing.StatusPartial,
	}
	repo := &staleListRepo{stubRepo: inner, stale: []billing.BillingRecord{stale, deleted}}

	healed, err := ReconcileLedger(ctx, repo, nil)
	require.NoError(t, err)
	require.Zero(t, healed, "records consistent or absent under the lock are not healed")
}

func TestReconcileLedgerNoDriftIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepo()
	repo.add(billing.BillingRecord{
		ID:        "rec-1",
		PatientID: "patient-1",
		Total:     money.FromUnits(50, 0),
		Status:    billing.StatusPending,
	})

	healed, err := ReconcileLedger(ctx, repo, nil)
	require.NoError(t, err)
	require.Zero(t, healed)
}
