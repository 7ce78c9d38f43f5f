package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-clinic/meridian/internal/money"
	"github.com/meridian-clinic/meridian/internal/observability"
	"github.com/meridian-clinic/meridian/internal/shared"
)

// AuditPort records ledger mutations for the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig carries billing policy switches.
type ServiceConfig struct {
	// CreditOverpayment controls what happens when a payment exceeds the
	// patient's total outstanding debt. When false the excess is reported
	// but not written to the ledger; when true it becomes a standalone
	// payment record so the money stays accounted for.
	CreditOverpayment bool
}

// Service handles billing business logic: payment allocation, the
// transaction ledger and balance projections.
type Service struct {
	repo    RepositoryPort
	cache   *BalanceCache
	metrics *observability.BillingMetrics
	audit   AuditPort
	cfg     ServiceConfig
	now     func() time.Time
}

// NewService builds a Service instance. Cache and metrics may be nil.
func NewService(repo RepositoryPort, cache *BalanceCache, metrics *observability.BillingMetrics, cfg ServiceConfig) *Service {
	return &Service{repo: repo, cache: cache, metrics: metrics, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithAudit attaches an audit trail recorder.
func (s *Service) WithAudit(audit AuditPort) {
	s.audit = audit
}

// recordAudit writes best-effort; the ledger mutation already committed.
func (s *Service) recordAudit(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "billing",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
}

// AllocatePaymentInput describes an incoming payment for a patient.
type AllocatePaymentInput struct {
	PatientID   string
	Total       money.Amount
	Methods     []MethodAmount
	Description string
	Date        time.Time
	CreatedBy   string
}

// AllocationResult reports what a payment allocation did.
type AllocationResult struct {
	RecordsTouched int          `json:"recordsTouched"`
	TransactionIDs []string     `json:"transactionIds"`
	Allocated      money.Amount `json:"allocated"`
	Unallocated    money.Amount `json:"unallocated"`
	// CreditRecordID is the standalone record holding the overpayment
	// excess, set only under the CreditOverpayment policy.
	CreditRecordID string `json:"creditRecordId,omitempty"`
}

// AllocatePayment applies a payment against the patient's outstanding
// billing records, oldest debt first. Each touched record receives one
// transaction whose method splits keep the proportions of the original
// split. Validation happens before any mutation; a storage failure after
// some records were written surfaces as *PartialAllocationError.
func (s *Service) AllocatePayment(ctx context.Context, input AllocatePaymentInput) (*AllocationResult, error) {
	if input.PatientID == "" {
		return nil, errors.New("billing: patient id required")
	}
	if input.Total <= 0 {
		return nil, ErrInvalidAmount
	}
	methods, err := normalizeSplit(input.Methods, input.Total)
	if err != nil {
		return nil, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}

	result := &AllocationResult{}
	err = s.repo.WithPatientLock(ctx, input.PatientID, func(ctx context.Context, tx TxRepository) error {
		records, err := tx.ListOutstanding(ctx, input.PatientID)
		if err != nil {
			return fmt.Errorf("billing: list outstanding: %w", err)
		}
		remaining := input.Total
		for i := range records {
			if remaining <= 0 {
				break
			}
			rec := &records[i]
			owed := rec.Owed()
			if owed <= 0 {
				continue
			}
			applied := money.Min(remaining, owed)
			txn, err := newTransaction(applied, methods, date, input.Description)
			if err != nil {
				return err
			}
			rec.Transactions = append(rec.Transactions, txn)
			rec.Resync()
			rec.PaymentDate = &date
			rec.UpdatedAt = s.now()
			if err := tx.SaveRecord(ctx, rec); err != nil {
				return &PartialAllocationError{RecordsUpdated: result.RecordsTouched, Err: err}
			}
			result.RecordsTouched++
			result.TransactionIDs = append(result.TransactionIDs, txn.ID)
			result.Allocated += applied
			remaining -= applied
		}
		result.Unallocated = remaining
		if remaining > 0 && s.cfg.CreditOverpayment {
			credit := s.buildStandaloneRecord(input.PatientID, remaining, methods, date, input.Description, input.CreatedBy)
			if err := tx.CreateRecord(ctx, credit); err != nil {
				return &PartialAllocationError{RecordsUpdated: result.RecordsTouched, Err: err}
			}
			result.CreditRecordID = credit.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Bump(ctx)
	s.metrics.ObserveAllocation(len(result.TransactionIDs), int64(result.Unallocated))
	s.recordAudit(ctx, input.CreatedBy, "billing.payment.allocate", input.PatientID, map[string]any{
		"total":           input.Total.String(),
		"records_touched": result.RecordsTouched,
		"unallocated":     result.Unallocated.String(),
	})
	return result, nil
}

// AmendTransactionInput targets an existing transaction for in-place edit.
type AmendTransactionInput struct {
	PatientID     string
	TransactionID string
	Total         money.Amount
	Methods       []MethodAmount
	Date          time.Time
	Description   string
}

// AmendTransaction replaces the amount and method splits of an existing
// transaction, then re-derives the owning record's paid amount and status
// by re-summing the ledger. The record's payment date becomes the
// amendment date.
func (s *Service) AmendTransaction(ctx context.Context, input AmendTransactionInput) (*BillingRecord, error) {
	if input.PatientID == "" {
		return nil, errors.New("billing: patient id required")
	}
	if input.TransactionID == "" {
		return nil, ErrTransactionNotFound
	}
	if input.Total <= 0 {
		return nil, ErrInvalidAmount
	}
	methods, err := normalizeSplit(input.Methods, input.Total)
	if err != nil {
		return nil, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}

	var amended *BillingRecord
	err = s.repo.WithPatientLock(ctx, input.PatientID, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.FindByTransactionID(ctx, input.PatientID, input.TransactionID)
		if err != nil {
			return fmt.Errorf("billing: find by transaction: %w", err)
		}
		if rec == nil {
			return ErrTransactionNotFound
		}
		idx := rec.FindTransaction(input.TransactionID)
		if idx < 0 {
			return ErrTransactionNotFound
		}
		splits, err := buildSplits(input.Total, methods)
		if err != nil {
			return err
		}
		txn := &rec.Transactions[idx]
		txn.Total = input.Total
		txn.Splits = splits
		txn.Date = date
		if input.Description != "" {
			txn.Notes = input.Description
		}
		rec.Resync()
		rec.PaymentDate = &date
		rec.UpdatedAt = s.now()
		if err := tx.SaveRecord(ctx, rec); err != nil {
			return fmt.Errorf("billing: save record: %w", err)
		}
		amended = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Bump(ctx)
	s.metrics.ObserveAmendment()
	s.recordAudit(ctx, "", "billing.transaction.amend", input.TransactionID, map[string]any{
		"patient_id": input.PatientID,
		"total":      input.Total.String(),
	})
	return amended, nil
}

// AddDebtInput registers a debt against one new record, optionally with an
// immediate partial payment.
type AddDebtInput struct {
	PatientID   string
	Amount      money.Amount
	Description string
	Date        time.Time
	CreatedBy   string
	// PaidAmount, when positive, becomes the record's first transaction.
	PaidAmount money.Amount
	Methods    []MethodAmount
}

// AddDebt creates a billing record carrying a synthetic debt item. This is
// the directed single-record variant of allocation: the debt (and optional
// payment) lands on exactly this record.
func (s *Service) AddDebt(ctx context.Context, input AddDebtInput) (*BillingRecord, error) {
	if input.PatientID == "" {
		return nil, errors.New("billing: patient id required")
	}
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if input.PaidAmount < 0 {
		return nil, ErrInvalidAmount
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	name := input.Description
	if name == "" {
		name = "debt"
	}

	now := s.now()
	rec := &BillingRecord{
		ID:        uuid.NewString(),
		PatientID: input.PatientID,
		Items:     []LineItem{{Name: name, UnitCost: input.Amount, Quantity: 1}},
		Total:     input.Amount,
		Notes:     input.Description,
		CreatedBy: input.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.PaidAmount > 0 {
		methods, err := normalizeSplit(input.Methods, input.PaidAmount)
		if err != nil {
			return nil, err
		}
		txn, err := newTransaction(input.PaidAmount, methods, date, input.Description)
		if err != nil {
			return nil, err
		}
		rec.Transactions = []Transaction{txn}
		rec.PaymentDate = &date
	}
	rec.Resync()

	err := s.repo.WithPatientLock(ctx, input.PatientID, func(ctx context.Context, tx TxRepository) error {
		return tx.CreateRecord(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("billing: create record: %w", err)
	}
	s.cache.Bump(ctx)
	s.recordAudit(ctx, input.CreatedBy, "billing.debt.add", rec.ID, map[string]any{
		"patient_id": input.PatientID,
		"amount":     input.Amount.String(),
	})
	return rec, nil
}

// StandalonePaymentInput records a payment with no associated debt.
type StandalonePaymentInput struct {
	PatientID   string
	Amount      money.Amount
	Methods     []MethodAmount
	Description string
	Date        time.Time
	CreatedBy   string
}

// RecordStandalonePayment creates a zero-total record whose only
// transaction is the payment. Such records are always PAID and contribute
// nothing to the patient's remaining balance.
func (s *Service) RecordStandalonePayment(ctx context.Context, input StandalonePaymentInput) (*BillingRecord, error) {
	if input.PatientID == "" {
		return nil, errors.New("billing: patient id required")
	}
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	methods, err := normalizeSplit(input.Methods, input.Amount)
	if err != nil {
		return nil, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}

	rec := s.buildStandaloneRecord(input.PatientID, input.Amount, methods, date, input.Description, input.CreatedBy)
	err = s.repo.WithPatientLock(ctx, input.PatientID, func(ctx context.Context, tx TxRepository) error {
		return tx.CreateRecord(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("billing: create record: %w", err)
	}
	s.cache.Bump(ctx)
	s.recordAudit(ctx, input.CreatedBy, "billing.payment.standalone", rec.ID, map[string]any{
		"patient_id": input.PatientID,
		"amount":     input.Amount.String(),
	})
	return rec, nil
}

func (s *Service) buildStandaloneRecord(patientID string, amount money.Amount, methods []MethodAmount, date time.Time, notes, createdBy string) *BillingRecord {
	now := s.now()
	txn, _ := newTransaction(amount, methods, date, notes)
	rec := &BillingRecord{
		ID:           uuid.NewString(),
		PatientID:    patientID,
		Total:        0,
		Transactions: []Transaction{txn},
		Notes:        notes,
		PaymentDate:  &date,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	rec.Resync()
	return rec
}

// normalizeSplit validates a method split against the payment total and
// drops zero-amount entries, preserving order.
func normalizeSplit(methods []MethodAmount, total money.Amount) ([]MethodAmount, error) {
	var out []MethodAmount
	var sum money.Amount
	for _, m := range methods {
		if !KnownMethod(m.Method) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, m.Method)
		}
		if m.Amount < 0 {
			return nil, ErrInvalidAmount
		}
		sum += m.Amount
		if m.Amount > 0 {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoPaymentMethod
	}
	if sum != total {
		return nil, fmt.Errorf("%w: method split must sum to the payment total", ErrInvalidAmount)
	}
	return out, nil
}

// buildSplits distributes applied across the methods proportionally; the
// last split absorbs the rounding remainder so the parts sum exactly.
func buildSplits(applied money.Amount, methods []MethodAmount) ([]MethodAmount, error) {
	weights := make([]money.Amount, len(methods))
	for i, m := range methods {
		weights[i] = m.Amount
	}
	parts, err := money.SplitProportional(applied, weights)
	if err != nil {
		return nil, err
	}
	splits := make([]MethodAmount, len(methods))
	for i, m := range methods {
		splits[i] = MethodAmount{Method: m.Method, Amount: parts[i]}
	}
	return splits, nil
}

func newTransaction(applied money.Amount, methods []MethodAmount, date time.Time, notes string) (Transaction, error) {
	splits, err := buildSplits(applied, methods)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		ID:     uuid.NewString(),
		Splits: splits,
		Total:  applied,
		Date:   date,
		Notes:  notes,
	}, nil
}
