package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-clinic/meridian/internal/money"
	"github.com/meridian-clinic/meridian/internal/platform/db"
	"github.com/meridian-clinic/meridian/internal/shared"
)

// Repository provides PostgreSQL backed persistence. Each billing record is
// one row; the line items and the transaction list live in jsonb columns so
// SaveRecord is a single-row atomic write.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, patient_id, items, total_cents, paid_cents, status, transactions, notes, payment_date, created_by, created_at, updated_at`

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WithPatientLock opens a transaction holding an advisory lock derived from
// the patient id, so concurrent ledger mutations for one patient cannot
// interleave their read-then-write steps.
func (r *Repository) WithPatientLock(ctx context.Context, patientID string, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, shared.PatientLockID(patientID)); err != nil {
			return fmt.Errorf("billing: acquire patient lock: %w", err)
		}
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) ListOutstanding(ctx context.Context, patientID string) ([]BillingRecord, error) {
	return listByPatient(ctx, t.tx, patientID)
}

func (t *txRepo) FindByTransactionID(ctx context.Context, patientID, transactionID string) (*BillingRecord, error) {
	return findByTransactionID(ctx, t.tx, patientID, transactionID)
}

func (t *txRepo) GetRecord(ctx context.Context, id string) (*BillingRecord, error) {
	return getRecord(ctx, t.tx, id)
}

func (t *txRepo) SaveRecord(ctx context.Context, rec *BillingRecord) error {
	return saveRecord(ctx, t.tx, rec)
}

func (t *txRepo) CreateRecord(ctx context.Context, rec *BillingRecord) error {
	return createRecord(ctx, t.tx, rec)
}

// CreateRecord inserts a new billing record.
func (r *Repository) CreateRecord(ctx context.Context, rec *BillingRecord) error {
	return createRecord(ctx, r.pool, rec)
}

// GetRecord returns a record by id, nil when absent.
func (r *Repository) GetRecord(ctx context.Context, id string) (*BillingRecord, error) {
	return getRecord(ctx, r.pool, id)
}

// ListByPatient returns a patient's records ordered by creation time.
func (r *Repository) ListByPatient(ctx context.Context, patientID string) ([]BillingRecord, error) {
	return listByPatient(ctx, r.pool, patientID)
}

// ListAll returns every billing record, grouped-friendly ordering.
func (r *Repository) ListAll(ctx context.Context) ([]BillingRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM billing_records ORDER BY patient_id, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SaveRecord persists the mutable fields of a record as one atomic write.
func (r *Repository) SaveRecord(ctx context.Context, rec *BillingRecord) error {
	return saveRecord(ctx, r.pool, rec)
}

// DeleteRecord removes a record unconditionally.
func (r *Repository) DeleteRecord(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM billing_records WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func createRecord(ctx context.Context, q queryer, rec *BillingRecord) error {
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return err
	}
	txns, err := json.Marshal(rec.Transactions)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO billing_records (`+recordColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.PatientID, items, int64(rec.Total), int64(rec.Paid), rec.Status, txns,
		rec.Notes, rec.PaymentDate, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func saveRecord(ctx context.Context, q queryer, rec *BillingRecord) error {
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return err
	}
	txns, err := json.Marshal(rec.Transactions)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `UPDATE billing_records
SET items=$2, total_cents=$3, paid_cents=$4, status=$5, transactions=$6, notes=$7, payment_date=$8, updated_at=$9
WHERE id=$1`,
		rec.ID, items, int64(rec.Total), int64(rec.Paid), rec.Status, txns,
		rec.Notes, rec.PaymentDate, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func getRecord(ctx context.Context, q queryer, id string) (*BillingRecord, error) {
	row := q.QueryRow(ctx, `SELECT `+recordColumns+` FROM billing_records WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func listByPatient(ctx context.Context, q queryer, patientID string) ([]BillingRecord, error) {
	rows, err := q.Query(ctx, `SELECT `+recordColumns+` FROM billing_records WHERE patient_id=$1 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func findByTransactionID(ctx context.Context, q queryer, patientID, transactionID string) (*BillingRecord, error) {
	row := q.QueryRow(ctx, `SELECT `+recordColumns+` FROM billing_records
WHERE patient_id=$1 AND transactions @> jsonb_build_array(jsonb_build_object('id', $2::text))`,
		patientID, transactionID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanRecords(rows pgx.Rows) ([]BillingRecord, error) {
	var records []BillingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*BillingRecord, error) {
	var (
		rec        BillingRecord
		items      []byte
		txns       []byte
		totalCents int64
		paidCents  int64
	)
	if err := row.Scan(&rec.ID, &rec.PatientID, &items, &totalCents, &paidCents, &rec.Status, &txns,
		&rec.Notes, &rec.PaymentDate, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &rec.Items); err != nil {
		return nil, fmt.Errorf("billing: decode items: %w", err)
	}
	if err := json.Unmarshal(txns, &rec.Transactions); err != nil {
		return nil, fmt.Errorf("billing: decode transactions: %w", err)
	}
	rec.Total = money.Amount(totalCents)
	rec.Paid = money.Amount(paidCents)
	return &rec, nil
}
