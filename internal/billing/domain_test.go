package billing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-clinic/meridian/internal/money"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name  string
		paid  money.Amount
		total money.Amount
		want  RecordStatus
	}{
		{"untouched debt", 0, 10000, StatusPending},
		{"partial", 4000, 10000, StatusPartial},
		{"exact", 10000, 10000, StatusPaid},
		{"overpaid", 12000, 10000, StatusPaid},
		{"zero total", 0, 0, StatusPaid},
		{"zero total with payment", 5000, 0, StatusPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveStatus(tc.paid, tc.total))
		})
	}
}

func TestDeriveStatusProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		paid := money.Amount(rng.Int63n(20000))
		total := money.Amount(rng.Int63n(20000))
		if i%10 == 0 {
			total = 0
		}
		got := DeriveStatus(paid, total)
		switch {
		case paid >= total:
			require.Equal(t, StatusPaid, got, "paid=%d total=%d", paid, total)
		case paid > 0:
			require.Equal(t, StatusPartial, got, "paid=%d total=%d", paid, total)
		default:
			require.Equal(t, StatusPending, got, "paid=%d total=%d", paid, total)
		}
	}
}

func TestResyncIsIdempotent(t *testing.T) {
	rec := BillingRecord{
		Total: 10000,
		Transactions: []Transaction{
			{Total: 3000},
			{Total: 2500},
		},
	}
	rec.Resync()
	firstPaid, firstStatus := rec.Paid, rec.Status
	rec.Resync()
	require.Equal(t, firstPaid, rec.Paid)
	require.Equal(t, firstStatus, rec.Status)
	require.Equal(t, money.Amount(5500), rec.Paid)
	require.Equal(t, StatusPartial, rec.Status)
}

func TestResyncHealsDrift(t *testing.T) {
	rec := BillingRecord{
		Total:        10000,
		Paid:         9999, // drifted cached value
		Transactions: []Transaction{{Total: 4000}},
	}
	rec.Resync()
	require.Equal(t, money.Amount(4000), rec.Paid)
	require.Equal(t, StatusPartial, rec.Status)
}

func TestOwedClampsAtZero(t *testing.T) {
	rec := BillingRecord{Total: 0, Paid: 5000}
	require.True(t, rec.Owed().IsZero())

	rec = BillingRecord{Total: 5000, Paid: 2000}
	require.Equal(t, money.Amount(3000), rec.Owed())
}

func TestProjectBalance(t *testing.T) {
	records := []BillingRecord{
		{Total: 10000, Paid: 4000},
		{Total: 5000, Paid: 5000},
	}
	bal := ProjectBalance("patient-1", records)
	require.Equal(t, money.Amount(9000), bal.TotalPaid)
	require.Equal(t, money.Amount(15000), bal.TotalDebt)
	require.Equal(t, money.Amount(6000), bal.RemainingBalance)
	require.InDelta(t, 60.0, bal.PaymentPercentage, 0.001)
}

func TestProjectBalanceStandalonePaymentBoundary(t *testing.T) {
	// A standalone payment record (total 0, paid 50) contributes nothing to
	// the remaining balance and must not offset other records' debt.
	records := []BillingRecord{
		{Total: 0, Paid: 5000},
		{Total: 10000, Paid: 0},
	}
	bal := ProjectBalance("patient-1", records)
	require.Equal(t, money.Amount(10000), bal.RemainingBalance)
	require.Equal(t, money.Amount(5000), bal.TotalPaid)
	require.InDelta(t, 0.0, bal.PaymentPercentage, 0.001)
}

func TestProjectBalanceNoDebt(t *testing.T) {
	bal := ProjectBalance("patient-1", nil)
	require.True(t, bal.TotalDebt.IsZero())
	require.Equal(t, 0.0, bal.PaymentPercentage)
}

func TestProjectBalancePercentageClamped(t *testing.T) {
	// Overpaid records clamp per record, so the percentage never exceeds 100.
	records := []BillingRecord{
		{Total: 10000, Paid: 20000},
	}
	bal := ProjectBalance("patient-1", records)
	require.Equal(t, 100.0, bal.PaymentPercentage)
	require.True(t, bal.RemainingBalance.IsZero())
}
