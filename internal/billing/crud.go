package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-clinic/meridian/internal/money"
)

// CreateRecordInput describes an administratively created billing record.
type CreateRecordInput struct {
	PatientID string
	Items     []LineItem
	Notes     string
	CreatedBy string
}

// CreateRecord creates a record whose total is the sum of its line items.
func (s *Service) CreateRecord(ctx context.Context, input CreateRecordInput) (*BillingRecord, error) {
	if input.PatientID == "" {
		return nil, errors.New("billing: patient id required")
	}
	var total money.Amount
	for _, item := range input.Items {
		if item.UnitCost < 0 || item.Quantity < 0 {
			return nil, ErrInvalidAmount
		}
		total += item.UnitCost * money.Amount(item.Quantity)
	}

	now := s.now()
	rec := &BillingRecord{
		ID:        uuid.NewString(),
		PatientID: input.PatientID,
		Items:     input.Items,
		Total:     total,
		Notes:     input.Notes,
		CreatedBy: input.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec.Resync()

	err := s.repo.WithPatientLock(ctx, input.PatientID, func(ctx context.Context, tx TxRepository) error {
		return tx.CreateRecord(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("billing: create record: %w", err)
	}
	s.cache.Bump(ctx)
	s.recordAudit(ctx, input.CreatedBy, "billing.record.create", rec.ID, map[string]any{
		"patient_id": input.PatientID,
		"total":      total.String(),
	})
	return rec, nil
}

// GetRecord returns one billing record by id.
func (s *Service) GetRecord(ctx context.Context, id string) (*BillingRecord, error) {
	rec, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("billing: get record: %w", err)
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// ListPatientRecords returns all of a patient's records, oldest first.
func (s *Service) ListPatientRecords(ctx context.Context, patientID string) ([]BillingRecord, error) {
	if patientID == "" {
		return nil, errors.New("billing: patient id required")
	}
	return s.repo.ListByPatient(ctx, patientID)
}

// UpdateRecordInput carries admin field corrections. Nil fields are left
// unchanged.
type UpdateRecordInput struct {
	ID          string
	Items       []LineItem
	Total       *money.Amount
	Paid        *money.Amount
	Notes       *string
	PaymentDate *time.Time
}

// UpdateRecord applies an administrative correction. Status is always
// re-derived; once the record has transactions the paid amount stays bound
// to the transaction sum and an explicit Paid value is ignored.
func (s *Service) UpdateRecord(ctx context.Context, input UpdateRecordInput) (*BillingRecord, error) {
	if input.ID == "" {
		return nil, ErrRecordNotFound
	}
	existing, err := s.repo.GetRecord(ctx, input.ID)
	if err != nil {
		return nil, fmt.Errorf("billing: get record: %w", err)
	}
	if existing == nil {
		return nil, ErrRecordNotFound
	}

	var updated *BillingRecord
	err = s.repo.WithPatientLock(ctx, existing.PatientID, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecord(ctx, input.ID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrRecordNotFound
		}
		if input.Items != nil {
			rec.Items = input.Items
		}
		if input.Total != nil {
			if *input.Total < 0 {
				return ErrInvalidAmount
			}
			rec.Total = *input.Total
		}
		if input.Notes != nil {
			rec.Notes = *input.Notes
		}
		if input.PaymentDate != nil {
			rec.PaymentDate = input.PaymentDate
		}
		if len(rec.Transactions) > 0 {
			rec.Resync()
		} else {
			if input.Paid != nil {
				if *input.Paid < 0 {
					return ErrInvalidAmount
				}
				rec.Paid = *input.Paid
			}
			rec.Status = DeriveStatus(rec.Paid, rec.Total)
		}
		rec.UpdatedAt = s.now()
		if err := tx.SaveRecord(ctx, rec); err != nil {
			return fmt.Errorf("billing: save record: %w", err)
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Bump(ctx)
	return updated, nil
}

// DeleteRecord removes a record unconditionally.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	if id == "" {
		return ErrRecordNotFound
	}
	if err := s.repo.DeleteRecord(ctx, id); err != nil {
		return err
	}
	s.cache.Bump(ctx)
	s.recordAudit(ctx, "", "billing.record.delete", id, nil)
	return nil
}
