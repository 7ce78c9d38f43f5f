package billing

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the billing core.
var (
	// ErrInvalidAmount indicates a non-positive payment or debt total.
	ErrInvalidAmount = errors.New("billing: amount must be positive")
	// ErrNoPaymentMethod indicates an empty or all-zero method split.
	ErrNoPaymentMethod = errors.New("billing: at least one positive payment method required")
	// ErrUnknownMethod indicates a payment method outside the accepted set.
	ErrUnknownMethod = errors.New("billing: unknown payment method")
	// ErrRecordNotFound indicates a missing billing record.
	ErrRecordNotFound = errors.New("billing: record not found")
	// ErrTransactionNotFound indicates a missing transaction on amendment.
	ErrTransactionNotFound = errors.New("billing: transaction not found")
)

// PartialAllocationError reports a storage failure after some records of a
// multi-record allocation were already updated. Callers must treat it as
// "some money was recorded, reconcile against RecordsUpdated".
type PartialAllocationError struct {
	RecordsUpdated int
	Err            error
}

func (e *PartialAllocationError) Error() string {
	return fmt.Sprintf("billing: allocation failed after %d record(s) updated: %v", e.RecordsUpdated, e.Err)
}

func (e *PartialAllocationError) Unwrap() error { return e.Err }

// TxRepository exposes the persistence operations available while the
// per-patient lock is held.
type TxRepository interface {
	// ListOutstanding returns the patient's billing records ordered by
	// creation time ascending. Oldest debt is satisfied first.
	ListOutstanding(ctx context.Context, patientID string) ([]BillingRecord, error)
	// FindByTransactionID returns the record owning the given transaction.
	FindByTransactionID(ctx context.Context, patientID, transactionID string) (*BillingRecord, error)
	// GetRecord returns a record by id, nil when absent.
	GetRecord(ctx context.Context, id string) (*BillingRecord, error)
	// SaveRecord persists paid amount, status, payment date and the
	// transaction list as a single atomic write.
	SaveRecord(ctx context.Context, rec *BillingRecord) error
	// CreateRecord inserts a new billing record.
	CreateRecord(ctx context.Context, rec *BillingRecord) error
}

// RepositoryPort defines data access for the billing service.
type RepositoryPort interface {
	// WithPatientLock serializes fetch-then-update cycles per patient.
	// Concurrent calls for the same patient must not interleave; different
	// patients proceed independently.
	WithPatientLock(ctx context.Context, patientID string, fn func(ctx context.Context, tx TxRepository) error) error

	CreateRecord(ctx context.Context, rec *BillingRecord) error
	GetRecord(ctx context.Context, id string) (*BillingRecord, error)
	ListByPatient(ctx context.Context, patientID string) ([]BillingRecord, error)
	ListAll(ctx context.Context) ([]BillingRecord, error)
	SaveRecord(ctx context.Context, rec *BillingRecord) error
	DeleteRecord(ctx context.Context, id string) error
}
