package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-clinic/meridian/internal/money"
)

func newTestHandler(t *testing.T) (*Handler, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	svc := newTestService(repo)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(logger, svc, nil), repo
}

func mountTestRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Route("/billing", h.MountRoutes)
	return r
}

func TestHandlerAllocatePayment(t *testing.T) {
	h, repo := newTestHandler(t)
	router := mountTestRouter(h)

	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seedDebt(t, repo, "patient-1", money.FromUnits(80, 0), day)

	body := bytes.NewBufferString(`{"total":"50.00","methods":[{"method":"cash","amount":"50.00"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/patients/patient-1/payments", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var result AllocationResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, 1, result.RecordsTouched)
	require.Equal(t, money.FromUnits(50, 0), result.Allocated)

	records, err := repo.ListByPatient(context.Background(), "patient-1")
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(50, 0), records[0].Paid)
}

func TestHandlerAllocatePaymentRejectsUnknownMethod(t *testing.T) {
	h, _ := newTestHandler(t)
	router := mountTestRouter(h)

	body := bytes.NewBufferString(`{"total":"50.00","methods":[{"method":"cheque","amount":"50.00"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/patients/patient-1/payments", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerAmendTransactionNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	router := mountTestRouter(h)

	body := bytes.NewBufferString(`{"total":"10.00","methods":[{"method":"cash","amount":"10.00"}]}`)
	req := httptest.NewRequest(http.MethodPatch, "/billing/patients/patient-1/transactions/missing", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerPatientBalance(t *testing.T) {
	h, repo := newTestHandler(t)
	router := mountTestRouter(h)

	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seedDebt(t, repo, "patient-1", money.FromUnits(100, 0), day)

	req := httptest.NewRequest(http.MethodGet, "/billing/patients/patient-1/balance", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var bal PatientBalance
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &bal))
	require.Equal(t, money.FromUnits(100, 0), bal.TotalDebt)
	require.True(t, bal.TotalPaid.IsZero())
}

func TestHandlerRecordCRUD(t *testing.T) {
	h, _ := newTestHandler(t)
	router := mountTestRouter(h)

	body := bytes.NewBufferString(`{"patientId":"patient-9","items":[{"name":"Consultation","unitCost":"80.00","quantity":1}]}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/records", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created recordPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, money.FromUnits(80, 0), created.Total)
	require.Equal(t, StatusPending, created.Status)

	req = httptest.NewRequest(http.MethodGet, "/billing/records/"+created.ID, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodDelete, "/billing/records/"+created.ID, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/billing/records/"+created.ID, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerListPatientRecordsPaginates(t *testing.T) {
	h, repo := newTestHandler(t)
	router := mountTestRouter(h)

	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		seedDebt(t, repo, "patient-1", money.FromUnits(10, 0), day.Add(time.Duration(i)*time.Hour))
	}

	req := httptest.NewRequest(http.MethodGet, "/billing/patients/patient-1/records?page=2&per_page=2", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Records    []recordPayload `json:"records"`
		Pagination struct {
			Page       int
			TotalPages int
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	require.Equal(t, 2, resp.Pagination.Page)
	require.Equal(t, 2, resp.Pagination.TotalPages)
}
