package observability

import "github.com/prometheus/client_golang/prometheus"

// BillingMetrics counts ledger activity: allocations performed, transactions
// appended or amended, and unallocated payment remainders.
type BillingMetrics struct {
	allocationsTotal  prometheus.Counter
	transactionsTotal prometheus.Counter
	amendmentsTotal   prometheus.Counter
	unallocatedCents  prometheus.Counter
}

// NewBillingMetrics registers billing counters with the given registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	m := &BillingMetrics{
		allocationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meridian_billing_allocations_total",
			Help: "Number of payment allocations performed.",
		}),
		transactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meridian_billing_transactions_total",
			Help: "Number of ledger transactions appended by allocations.",
		}),
		amendmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meridian_billing_amendments_total",
			Help: "Number of ledger transactions amended in place.",
		}),
		unallocatedCents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meridian_billing_unallocated_cents_total",
			Help: "Payment cents that exceeded outstanding debt and were not allocated.",
		}),
	}
	reg.MustRegister(m.allocationsTotal, m.transactionsTotal, m.amendmentsTotal, m.unallocatedCents)
	return m
}

// ObserveAllocation records one completed allocation.
func (m *BillingMetrics) ObserveAllocation(transactions int, unallocatedCents int64) {
	if m == nil {
		return
	}
	m.allocationsTotal.Inc()
	m.transactionsTotal.Add(float64(transactions))
	if unallocatedCents > 0 {
		m.unallocatedCents.Add(float64(unallocatedCents))
	}
}

// ObserveAmendment records one in-place transaction amendment.
func (m *BillingMetrics) ObserveAmendment() {
	if m == nil {
		return
	}
	m.amendmentsTotal.Inc()
}
