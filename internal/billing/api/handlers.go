package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"motelbooking/internal/billing"
	"motelbooking/internal/billing/domain"
	"motelbooking/internal/common/api"
	"motelbooking/internal/common/database"
	"motelbooking/internal/common/middleware"
	"motelbooking/internal/common/money"
)

var errorMappings = []api.ErrorMapping{
	{Target: database.ErrNotFound, Status: http.StatusNotFound, Code: api.ErrCodeNotFound},
	{Target: database.ErrAlreadyExists, Status: http.StatusConflict, Code: api.ErrCodeConflict},
	{Target: domain.ErrGatewayDeclined, Status: http.StatusPaymentRequired, Code: api.ErrCodePaymentDeclined},
	{Target: domain.ErrInsufficientFunds, Status: http.StatusUnprocessableEntity, Code: api.ErrCodeInsufficientFunds},
	{Target: domain.ErrInvalidPaymentState, Status: http.StatusConflict, Code: api.ErrCodeInvalidState},
	{Target: domain.ErrInvoiceNotOpen, Status: http.StatusConflict, Code: api.ErrCodeInvalidState},
	{Target: domain.ErrInvoiceHasFunds, Status: http.StatusConflict, Code: api.ErrCodeInvalidState},
	{Target: domain.ErrValidation, Status: http.StatusUnprocessableEntity, Code: api.ErrCodeValidation},
	{Target: money.ErrCurrencyMismatch, Status: http.StatusUnprocessableEntity, Code: api.ErrCodeValidation},
}

// Handler handles invoice and payment HTTP requests
type Handler struct {
	service *billing.Service
	logger  *slog.Logger
}

// NewHandler creates a new billing handler
func NewHandler(service *billing.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// PaymentResponse returns a payment together with the invoice it moved
type PaymentResponse struct {
	Payment *domain.Payment `json:"payment"`
	Invoice *domain.Invoice `json:"invoice"`
}

// RefundRequest is the body of POST /payments/{id}/refund. Without an
// amount the whole remaining captured amount is refunded.
type RefundRequest struct {
	Amount *money.Money `json:"amount"`
}

// Routes returns the billing routes on a fresh router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register adds the invoice and payment routes to r
func (h *Handler) Register(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", h.IssueInvoice)
		r.Get("/", h.GetInvoiceByBooking)
		r.Get("/{id}", h.GetInvoice)
		r.Get("/{id}/payments", h.ListPayments)
		r.Get("/{id}/reconcile", h.ReconcileInvoice)
		r.Post("/{id}/void", h.VoidInvoice)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.AuthorizePayment)
		r.Get("/{id}", h.GetPayment)
		r.Post("/{id}/capture", h.CapturePayment)
		r.Post("/{id}/refund", h.RefundPayment)
		r.Post("/{id}/void", h.VoidPayment)
	})
}

// IssueInvoice handles POST /invoices
func (h *Handler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	var req billing.IssueInvoiceRequest
	if !decode(w, r, &req) {
		return
	}

	invoice, err := h.service.IssueInvoice(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, "failed to issue invoice")
		return
	}

	api.WriteData(w, http.StatusCreated, invoice)
}

// GetInvoiceByBooking handles GET /invoices?booking_id=
func (h *Handler) GetInvoiceByBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := r.URL.Query().Get("booking_id")
	if bookingID == "" {
		api.BadRequest(w, "booking_id is required")
		return
	}

	invoice, err := h.service.GetInvoiceByBooking(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, r, err, "failed to get invoice")
		return
	}

	api.WriteData(w, http.StatusOK, invoice)
}

// GetInvoice handles GET /invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to get invoice")
		return
	}

	api.WriteData(w, http.StatusOK, invoice)
}

// ListPayments handles GET /invoices/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to list payments")
		return
	}

	page, pagination := api.Page(payments, api.GetPaginationParams(r, 50, 200))
	api.WritePaginated(w, page, pagination)
}

// ReconcileInvoice handles GET /invoices/{id}/reconcile
func (h *Handler) ReconcileInvoice(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.ReconcileInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to reconcile invoice")
		return
	}

	api.WriteData(w, http.StatusOK, rec)
}

// VoidInvoice handles POST /invoices/{id}/void
func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.service.VoidInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to void invoice")
		return
	}

	api.WriteData(w, http.StatusOK, invoice)
}

// AuthorizePayment handles POST /payments
func (h *Handler) AuthorizePayment(w http.ResponseWriter, r *http.Request) {
	var req billing.AuthorizeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.InitiatedBy == "" {
		req.InitiatedBy = middleware.GetActorID(r.Context())
	}

	payment, invoice, err := h.service.AuthorizePayment(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, "failed to authorize payment")
		return
	}

	api.WriteData(w, http.StatusCreated, PaymentResponse{Payment: payment, Invoice: invoice})
}

// GetPayment handles GET /payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to get payment")
		return
	}

	api.WriteData(w, http.StatusOK, payment)
}

// CapturePayment handles POST /payments/{id}/capture
func (h *Handler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	payment, invoice, err := h.service.CapturePayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to capture payment")
		return
	}

	api.WriteData(w, http.StatusOK, PaymentResponse{Payment: payment, Invoice: invoice})
}

// RefundPayment handles POST /payments/{id}/refund
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	var amount money.Money
	if req.Amount != nil {
		amount = *req.Amount
		if !amount.IsPositive() {
			api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, "refund amount must be positive")
			return
		}
	}

	payment, invoice, err := h.service.RefundPayment(r.Context(), chi.URLParam(r, "id"), amount)
	if err != nil {
		h.writeError(w, r, err, "failed to refund payment")
		return
	}

	api.WriteData(w, http.StatusOK, PaymentResponse{Payment: payment, Invoice: invoice})
}

// VoidPayment handles POST /payments/{id}/void
func (h *Handler) VoidPayment(w http.ResponseWriter, r *http.Request) {
	payment, invoice, err := h.service.VoidPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to void payment")
		return
	}

	api.WriteData(w, http.StatusOK, PaymentResponse{Payment: payment, Invoice: invoice})
}

// decode reads and validates a JSON body, writing the error response itself
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := api.DecodeAndValidate(r, v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		api.ValidationError(w, err)
	} else {
		api.BadRequest(w, "invalid request body")
	}
	return false
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if api.WriteMappedError(w, err, errorMappings) {
		return
	}
	h.logger.Error(fallback,
		"error", err,
		"correlation_id", middleware.GetCorrelationID(r.Context()),
	)
	api.InternalError(w, fallback)
}
