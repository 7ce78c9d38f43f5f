package billing

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/singleflight"
)

var balanceGroup singleflight.Group

// ProjectPatientBalance folds one patient's records into a balance summary.
// A patient with no records gets a zero balance.
func (s *Service) ProjectPatientBalance(ctx context.Context, patientID string) (*PatientBalance, error) {
	if patientID == "" {
		return nil, ErrRecordNotFound
	}
	records, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("billing: list records: %w", err)
	}
	bal := ProjectBalance(patientID, records)
	return &bal, nil
}

// ProjectAllBalances folds every patient's records into balance summaries,
// sorted by patient id. Results are cached and concurrent identical
// requests are collapsed through singleflight.
func (s *Service) ProjectAllBalances(ctx context.Context) ([]PatientBalance, error) {
	var balances []PatientBalance
	err := s.cache.FetchJSON(ctx, "billing:balances:all", &balances, func(ctx context.Context) (any, error) {
		result, err, _ := balanceGroup.Do("balances:all", func() (any, error) {
			return s.projectAllBalances(ctx)
		})
		return result, err
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (s *Service) projectAllBalances(ctx context.Context) ([]PatientBalance, error) {
	records, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("billing: list all records: %w", err)
	}
	grouped := make(map[string][]BillingRecord)
	for _, rec := range records {
		grouped[rec.PatientID] = append(grouped[rec.PatientID], rec)
	}
	balances := make([]PatientBalance, 0, len(grouped))
	for patientID, recs := range grouped {
		balances = append(balances, ProjectBalance(patientID, recs))
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].PatientID < balances[j].PatientID
	})
	return balances, nil
}
