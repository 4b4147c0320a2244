package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"vigil/internal/captcha"
	"vigil/internal/middleware"
	"vigil/internal/service"
	"vigil/internal/util"
)

// CreateBooking is the public booking endpoint the demo form posts to.
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestID(r.Context())
	var in service.BookingInput
	if err := util.DecodeJSON(w, r, &in, maxBookingBodyBytes); err != nil {
		util.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", reqID)
		return
	}
	b, err := h.svc.CreateBooking(r.Context(), in, middleware.ClientIP(r, h.cfg.TrustProxy))
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			util.WriteFieldErrors(w, http.StatusBadRequest, "validation_failed", "invalid booking", reqID, verr.Fields)
		case errors.Is(err, captcha.ErrCaptchaRequired):
			util.WriteError(w, http.StatusBadRequest, "captcha_required", err.Error(), reqID)
		case errors.Is(err, captcha.ErrCaptchaUnavailable):
			util.WriteError(w, http.StatusServiceUnavailable, "captcha_unavailable", "captcha verification unavailable", reqID)
		default:
			h.log.Error("create booking", zap.Error(err), zap.String("request_id", reqID))
			util.WriteError(w, http.StatusInternalServerError, "internal_error", "cannot store booking", reqID)
		}
		return
	}
	h.metrics.BookingsCreated.Inc()
	util.WriteJSON(w, http.StatusCreated, map[string]any{"id": b.ID, "status": b.Status})
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	res, err := h.svc.ListBookings(r.Context(), r.URL.Query().Get("status"), page, pageSize)
	if err != nil {
		h.bookingError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.bookingError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, b)
}

func (h *Handlers) UpdateBookingStatus(w http.ResponseWriter, r *http.Request) {
	status := r.PostFormValue("status")
	if wantsJSON(r) && status == "" {
		var body struct {
			Status string `json:"status"`
		}
		if err := util.DecodeJSON(w, r, &body, 1<<10); err != nil {
			util.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", middleware.RequestID(r.Context()))
			return
		}
		status = body.Status
	}
	b, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		h.bookingError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, b)
}

func (h *Handlers) bookingError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.RequestID(r.Context())
	switch {
	case errors.Is(err, service.ErrNotFound):
		util.WriteError(w, http.StatusNotFound, "not_found", "booking not found", reqID)
	case errors.Is(err, service.ErrInvalidStatus):
		util.WriteError(w, http.StatusBadRequest, "invalid_status", err.Error(), reqID)
	default:
		h.log.Error("booking query", zap.Error(err), zap.String("request_id", reqID))
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "booking query failed", reqID)
	}
}
