package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"motelbooking/internal/common/api"
	"motelbooking/internal/common/database"
	"motelbooking/internal/common/middleware"
	"motelbooking/internal/reservation"
	"motelbooking/internal/reservation/domain"
)

var errorMappings = []api.ErrorMapping{
	{Target: database.ErrNotFound, Status: http.StatusNotFound, Code: api.ErrCodeNotFound},
	{Target: domain.ErrRoomNotAvailable, Status: http.StatusConflict, Code: api.ErrCodeRoomNotAvailable},
	{Target: domain.ErrInvalidState, Status: http.StatusConflict, Code: api.ErrCodeInvalidState},
	{Target: domain.ErrInvalidDateRange, Status: http.StatusUnprocessableEntity, Code: api.ErrCodeInvalidDateRange},
	{Target: domain.ErrOccupancyExceeded, Status: http.StatusUnprocessableEntity, Code: api.ErrCodeOccupancyExceeded},
	{Target: domain.ErrValidation, Status: http.StatusUnprocessableEntity, Code: api.ErrCodeValidation},
}

// Handler handles booking HTTP requests
type Handler struct {
	service *reservation.Service
	logger  *slog.Logger
}

// NewHandler creates a new booking handler
func NewHandler(service *reservation.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the booking routes on a fresh router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register adds the booking routes to r
func (h *Handler) Register(r chi.Router) {
	r.Post("/bookings", h.CreateBooking)
	r.Post("/bookings/quote", h.QuoteBooking)
	r.Get("/bookings/by-code/{code}", h.GetBookingByCode)
	r.Get("/bookings/{id}", h.GetBooking)
	r.Post("/bookings/{id}/cancel", h.CancelBooking)
	r.Post("/bookings/{id}/modify", h.ModifyBooking)

	r.Get("/availability", h.SearchAvailability)
}

// CreateBooking handles POST /bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req reservation.CreateBookingRequest
	if !decode(w, r, &req) {
		return
	}

	booking, err := h.service.CreateBooking(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, "failed to create booking")
		return
	}

	api.WriteData(w, http.StatusCreated, booking)
}

// QuoteBooking handles POST /bookings/quote
func (h *Handler) QuoteBooking(w http.ResponseWriter, r *http.Request) {
	var req reservation.QuoteRequest
	if !decode(w, r, &req) {
		return
	}

	quote, err := h.service.QuoteBooking(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, "failed to quote booking")
		return
	}

	api.WriteData(w, http.StatusOK, quote)
}

// GetBooking handles GET /bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.service.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to get booking")
		return
	}

	api.WriteData(w, http.StatusOK, booking)
}

// GetBookingByCode handles GET /bookings/by-code/{code}
func (h *Handler) GetBookingByCode(w http.ResponseWriter, r *http.Request) {
	booking, err := h.service.GetBookingByConfirmationCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err, "failed to get booking")
		return
	}

	api.WriteData(w, http.StatusOK, booking)
}

// CancelBooking handles POST /bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.service.CancelBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to cancel booking")
		return
	}

	api.WriteData(w, http.StatusOK, booking)
}

// ModifyBooking handles POST /bookings/{id}/modify
func (h *Handler) ModifyBooking(w http.ResponseWriter, r *http.Request) {
	var req reservation.ModifyBookingRequest
	if !decode(w, r, &req) {
		return
	}

	booking, err := h.service.ModifyBooking(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err, "failed to modify booking")
		return
	}

	api.WriteData(w, http.StatusOK, booking)
}

// SearchAvailability handles GET /availability
func (h *Handler) SearchAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	propertyID := q.Get("property_id")
	if propertyID == "" {
		api.BadRequest(w, "property_id is required")
		return
	}
	checkIn, err := domain.ParseDate(q.Get("check_in"))
	if err != nil {
		api.BadRequest(w, "check_in must be YYYY-MM-DD")
		return
	}
	checkOut, err := domain.ParseDate(q.Get("check_out"))
	if err != nil {
		api.BadRequest(w, "check_out must be YYYY-MM-DD")
		return
	}

	results, err := h.service.SearchAvailability(r.Context(), propertyID, checkIn, checkOut, q.Get("rate_plan_id"))
	if err != nil {
		h.writeError(w, r, err, "failed to search availability")
		return
	}

	api.WriteData(w, http.StatusOK, results)
}

// decode reads and validates a JSON body, writing the error response itself
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := api.DecodeAndValidate(r, v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, domain.ErrInvalidDateRange):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInvalidDateRange, err.Error())
	case errors.As(err, &verrs):
		api.ValidationError(w, err)
	default:
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
