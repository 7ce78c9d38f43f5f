package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-clinic/meridian/internal/money"
	"github.com/meridian-clinic/meridian/internal/platform/httpx"
	"github.com/meridian-clinic/meridian/internal/shared"
)

// Handler manages billing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	idem     *shared.IdempotencyStore
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idem *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		idem:     idem,
	}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/patients/{patientID}/payments", h.allocatePayment)
	r.Post("/patients/{patientID}/debts", h.addDebt)
	r.Post("/patients/{patientID}/standalone-payments", h.standalonePayment)
	r.Patch("/patients/{patientID}/transactions/{transactionID}", h.amendTransaction)
	r.Get("/patients/{patientID}/records", h.listPatientRecords)
	r.Get("/patients/{patientID}/balance", h.patientBalance)
	r.Get("/balances", h.allBalances)

	r.Post("/records", h.createRecord)
	r.Get("/records/{id}", h.getRecord)
	r.Put("/records/{id}", h.updateRecord)
	r.Delete("/records/{id}", h.deleteRecord)
}

type methodAmountRequest struct {
	Method string       `json:"method" validate:"required,oneof=cash card transfer insurance"`
	Amount money.Amount `json:"amount"`
}

func toMethodAmounts(in []methodAmountRequest) []MethodAmount {
	out := make([]MethodAmount, len(in))
	for i, m := range in {
		out[i] = MethodAmount{Method: PaymentMethod(m.Method), Amount: m.Amount}
	}
	return out
}

type allocatePaymentRequest struct {
	Total       money.Amount          `json:"total"`
	Methods     []methodAmountRequest `json:"methods" validate:"required,min=1,dive"`
	Description string                `json:"description"`
	Date        time.Time             `json:"date"`
	CreatedBy   string                `json:"createdBy"`
}

func (h *Handler) allocatePayment(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	var req allocatePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "billing.payment"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Payment", "this payment was already submitted")
				return
			}
			h.logger.Error("idempotency check", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
	}

	result, err := h.service.AllocatePayment(r.Context(), AllocatePaymentInput{
		PatientID:   patientID,
		Total:       req.Total,
		Methods:     toMethodAmounts(req.Methods),
		Description: req.Description,
		Date:        req.Date,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		if idemKey != "" && h.idem != nil {
			// Allow the client to retry a failed submission.
			_ = h.idem.Delete(r.Context(), idemKey)
		}
		h.respondError(w, "allocate payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type addDebtRequest struct {
	Amount      money.Amount          `json:"amount"`
	Description string                `json:"description"`
	Date        time.Time             `json:"date"`
	CreatedBy   string                `json:"createdBy"`
	PaidAmount  money.Amount          `json:"paidAmount"`
	Methods     []methodAmountRequest `json:"methods" validate:"dive"`
}

func (h *Handler) addDebt(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	var req addDebtRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	rec, err := h.service.AddDebt(r.Context(), AddDebtInput{
		PatientID:   patientID,
		Amount:      req.Amount,
		Description: req.Description,
		Date:        req.Date,
		CreatedBy:   req.CreatedBy,
		PaidAmount:  req.PaidAmount,
		Methods:     toMethodAmounts(req.Methods),
	})
	if err != nil {
		h.respondError(w, "add debt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, recordResponse(rec))
}

type standalonePaymentRequest struct {
	Amount      money.Amount          `json:"amount"`
	Methods     []methodAmountRequest `json:"methods" validate:"required,min=1,dive"`
	Description string                `json:"description"`
	Date        time.Time             `json:"date"`
	CreatedBy   string                `json:"createdBy"`
}

func (h *Handler) standalonePayment(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	var req standalonePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	rec, err := h.service.RecordStandalonePayment(r.Context(), StandalonePaymentInput{
		PatientID:   patientID,
		Amount:      req.Amount,
		Methods:     toMethodAmounts(req.Methods),
		Description: req.Description,
		Date:        req.Date,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		h.respondError(w, "standalone payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, recordResponse(rec))
}

type amendTransactionRequest struct {
	Total       money.Amount          `json:"total"`
	Methods     []methodAmountRequest `json:"methods" validate:"required,min=1,dive"`
	Date        time.Time             `json:"date"`
	Description string                `json:"description"`
}

func (h *Handler) amendTransaction(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	transactionID := chi.URLParam(r, "transactionID")

	var req amendTransactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	rec, err := h.service.AmendTransaction(r.Context(), AmendTransactionInput{
		PatientID:     patientID,
		TransactionID: transactionID,
		Total:         req.Total,
		Methods:       toMethodAmounts(req.Methods),
		Date:          req.Date,
		Description:   req.Description,
	})
	if err != nil {
		h.respondError(w, "amend transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, recordResponse(rec))
}

func (h *Handler) listPatientRecords(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	records, err := h.service.ListPatientRecords(r.Context(), patientID)
	if err != nil {
		h.respondError(w, "list records", err)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pagination := shared.NewPagination(page, perPage, len(records))
	start := (pagination.Page - 1) * pagination.PerPage
	if start > len(records) {
		start = len(records)
	}
	end := start + pagination.PerPage
	if end > len(records) {
		end = len(records)
	}

	out := make([]*recordPayload, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, recordResponse(&records[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"records":    out,
		"pagination": pagination,
	})
}

func (h *Handler) patientBalance(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	balance, err := h.service.ProjectPatientBalance(r.Context(), patientID)
	if err != nil {
		h.respondError(w, "project balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) allBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.service.ProjectAllBalances(r.Context())
	if err != nil {
		h.respondError(w, "project all balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

type lineItemRequest struct {
	Name     string       `json:"name" validate:"required"`
	UnitCost money.Amount `json:"unitCost"`
	Quantity int          `json:"quantity" validate:"gte=0"`
}

type createRecordRequest struct {
	PatientID string            `json:"patientId" validate:"required"`
	Items     []lineItemRequest `json:"items" validate:"dive"`
	Notes     string            `json:"notes"`
	CreatedBy string            `json:"createdBy"`
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	items := make([]LineItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = LineItem{Name: item.Name, UnitCost: item.UnitCost, Quantity: item.Quantity}
	}
	rec, err := h.service.CreateRecord(r.Context(), CreateRecordInput{
		PatientID: req.PatientID,
		Items:     items,
		Notes:     req.Notes,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		h.respondError(w, "create record", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, recordResponse(rec))
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, recordResponse(rec))
}

type updateRecordRequest struct {
	Items       []lineItemRequest `json:"items" validate:"omitempty,dive"`
	Total       *money.Amount     `json:"total"`
	Paid        *money.Amount     `json:"paid"`
	Notes       *string           `json:"notes"`
	PaymentDate *time.Time        `json:"paymentDate"`
}

func (h *Handler) updateRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateRecordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := UpdateRecordInput{
		ID:          id,
		Total:       req.Total,
		Paid:        req.Paid,
		Notes:       req.Notes,
		PaymentDate: req.PaymentDate,
	}
	if req.Items != nil {
		items := make([]LineItem, len(req.Items))
		for i, item := range req.Items {
			items[i] = LineItem{Name: item.Name, UnitCost: item.UnitCost, Quantity: item.Quantity}
		}
		input.Items = items
	}

	rec, err := h.service.UpdateRecord(r.Context(), input)
	if err != nil {
		h.respondError(w, "update record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, recordResponse(rec))
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, "delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordPayload is the JSON shape of a billing record.
type recordPayload struct {
	ID           string        `json:"id"`
	PatientID    string        `json:"patientId"`
	Items        []LineItem    `json:"items"`
	Total        money.Amount  `json:"total"`
	Paid         money.Amount  `json:"paid"`
	Status       RecordStatus  `json:"status"`
	Transactions []Transaction `json:"transactions"`
	Notes        string        `json:"notes,omitempty"`
	PaymentDate  *time.Time    `json:"paymentDate,omitempty"`
	CreatedBy    string        `json:"createdBy,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func recordResponse(rec *BillingRecord) *recordPayload {
	return &recordPayload{
		ID:           rec.ID,
		PatientID:    rec.PatientID,
		Items:        rec.Items,
		Total:        rec.Total,
		Paid:         rec.Paid,
		Status:       rec.Status,
		Transactions: rec.Transactions,
		Notes:        rec.Notes,
		PaymentDate:  rec.PaymentDate,
		CreatedBy:    rec.CreatedBy,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

// respondError maps billing errors to problem responses.
func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var partial *PartialAllocationError
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrNoPaymentMethod), errors.Is(err, ErrUnknownMethod):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrTransactionNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &partial):
		h.logger.Error(op, slog.Any("error", err), slog.Int("records_updated", partial.RecordsUpdated))
		httpx.Problem(w, http.StatusInternalServerError, "Partial Allocation",
			"allocation failed after "+strconv.Itoa(partial.RecordsUpdated)+" record(s) were updated; reconcile manually")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
