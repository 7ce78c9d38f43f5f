// Package billing implements the clinic billing ledger: billing records,
// the payment allocator, the transaction ledger and patient balance
// projections.
package billing

import (
	"time"

	"github.com/meridian-clinic/meridian/internal/money"
)

// RecordStatus enumerates billing record payment states.
type RecordStatus string

const (
	StatusPending RecordStatus = "PENDING"
	StatusPartial RecordStatus = "PARTIAL"
	StatusPaid    RecordStatus = "PAID"
)

// PaymentMethod enumerates the accepted payment methods.
type PaymentMethod string

const (
	MethodCash      PaymentMethod = "cash"
	MethodCard      PaymentMethod = "card"
	MethodTransfer  PaymentMethod = "transfer"
	MethodInsurance PaymentMethod = "insurance"
)

// KnownMethod reports whether m is one of the accepted payment methods.
func KnownMethod(m PaymentMethod) bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodInsurance:
		return true
	}
	return false
}

// MethodAmount is one portion of a payment split.
type MethodAmount struct {
	Method PaymentMethod `json:"method"`
	Amount money.Amount  `json:"amount"`
}

// LineItem describes one charged item on a billing record.
type LineItem struct {
	Name     string       `json:"name"`
	UnitCost money.Amount `json:"unitCost"`
	Quantity int          `json:"quantity"`
}

// Transaction is one payment event recorded against a billing record. It is
// owned exclusively by that record and identified by ID for amendment.
type Transaction struct {
	ID     string         `json:"id"`
	Splits []MethodAmount `json:"splits"`
	Total  money.Amount   `json:"total"`
	Date   time.Time      `json:"date"`
	Notes  string         `json:"notes,omitempty"`
}

// BillingRecord is the persisted unit of debt: what was charged, what has
// been paid so far and the full transaction history.
//
// Paid and Status are derived from Transactions; they are recomputed through
// Resync after every ledger mutation and never set independently.
type BillingRecord struct {
	ID           string
	PatientID    string
	Items        []LineItem
	Total        money.Amount
	Paid         money.Amount
	Status       RecordStatus
	Transactions []Transaction
	Notes        string
	PaymentDate  *time.Time
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Owed returns the record's remaining debt, never below zero.
func (r *BillingRecord) Owed() money.Amount {
	owed := r.Total - r.Paid
	if owed < 0 {
		return 0
	}
	return owed
}

// DeriveStatus computes the status for a (paid, total) pair. A zero total is
// PAID: there is nothing left to owe.
func DeriveStatus(paid, total money.Amount) RecordStatus {
	switch {
	case paid >= total:
		return StatusPaid
	case paid > 0:
		return StatusPartial
	default:
		return StatusPending
	}
}

// Resync re-derives Paid and Status from the transaction list. Summing the
// ledger instead of adjusting a cached counter self-heals any prior drift.
func (r *BillingRecord) Resync() {
	var paid money.Amount
	for _, tx := range r.Transactions {
		paid += tx.Total
	}
	r.Paid = paid
	r.Status = DeriveStatus(r.Paid, r.Total)
}

// FindTransaction returns the index of the transaction with the given ID, or
// -1 when absent.
func (r *BillingRecord) FindTransaction(id string) int {
	for i, tx := range r.Transactions {
		if tx.ID == id {
			return i
		}
	}
	return -1
}

// PatientBalance is the read-side aggregation over all of a patient's
// billing records. It is computed at query time and never persisted as is.
type PatientBalance struct {
	PatientID         string       `json:"patientId"`
	TotalPaid         money.Amount `json:"totalPaid"`
	TotalDebt         money.Amount `json:"totalDebt"`
	RemainingBalance  money.Amount `json:"remainingBalance"`
	PaymentPercentage float64      `json:"paymentPercentage"`
}

// ProjectBalance folds a patient's records into a PatientBalance.
//
// RemainingBalance clamps each record at zero before summing, so a record
// overpaid relative to its own total does not offset another record's debt.
func ProjectBalance(patientID string, records []BillingRecord) PatientBalance {
	bal := PatientBalance{PatientID: patientID}
	for i := range records {
		r := &records[i]
		bal.TotalPaid += r.Paid
		bal.TotalDebt += r.Total
		bal.RemainingBalance += r.Owed()
	}
	if bal.TotalDebt > 0 {
		pct := 100 * float64(bal.TotalDebt-bal.RemainingBalance) / float64(bal.TotalDebt)
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		bal.PaymentPercentage = pct
	}
	return bal
}
