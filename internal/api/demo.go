package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"vigil/internal/booking"
	"vigil/internal/demo"
	"vigil/internal/middleware"
	"vigil/internal/util"
)

const demoAnchor = "/#demo"

// demoResponse is the modal snapshot plus the reason a call was refused.
type demoResponse struct {
	demo.Snapshot
	Error string `json:"error,omitempty"`
}

func (h *Handlers) respondDemo(w http.ResponseWriter, r *http.Request, status int, m *demo.Modal, errCode string) {
	if !wantsJSON(r) {
		http.Redirect(w, r, demoAnchor, http.StatusSeeOther)
		return
	}
	util.WriteJSON(w, status, demoResponse{Snapshot: m.Snapshot(), Error: errCode})
}

func (h *Handlers) DemoState(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	util.WriteJSON(w, http.StatusOK, demoResponse{Snapshot: v.Modal.Snapshot()})
}

func (h *Handlers) DemoOpen(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	if err := v.Modal.Open(); err != nil {
		h.respondDemo(w, r, http.StatusGone, v.Modal, "disposed")
		return
	}
	h.respondDemo(w, r, http.StatusOK, v.Modal, "")
}

func (h *Handlers) DemoClose(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	v.Modal.Close()
	h.respondDemo(w, r, http.StatusOK, v.Modal, "")
}

func (h *Handlers) DemoField(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	id, err := demo.ParseField(r.PostFormValue("field"))
	if err != nil {
		h.respondDemo(w, r, http.StatusBadRequest, v.Modal, "unknown_field")
		return
	}
	status, code := fieldStatus(v.Modal.SetField(id, r.PostFormValue("value")))
	h.respondDemo(w, r, status, v.Modal, code)
}

func fieldStatus(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, demo.ErrModalClosed):
		return http.StatusConflict, "modal_closed"
	case errors.Is(err, demo.ErrInvalidChoice):
		return http.StatusBadRequest, "invalid_choice"
	default:
		return http.StatusBadRequest, "unknown_field"
	}
}

// DemoSubmit sends the visitor's form to the booking endpoint. Fields
// posted with the request are applied first, so the page also works as a
// plain HTML form.
func (h *Handlers) DemoSubmit(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		util.WriteError(w, http.StatusBadRequest, "bad_request", "invalid form", middleware.RequestID(r.Context()))
		return
	}
	for _, id := range demo.Fields {
		if _, posted := r.PostForm[string(id)]; !posted {
			continue
		}
		if err := v.Modal.SetField(id, r.PostForm.Get(string(id))); err != nil {
			status, code := fieldStatus(err)
			h.respondDemo(w, r, status, v.Modal, code)
			return
		}
	}

	token := r.PostForm.Get("cf-turnstile-response")
	if token == "" {
		token = r.PostForm.Get("h-captcha-response")
	}
	if token == "" {
		token = r.PostForm.Get("captcha_token")
	}
	ip := middleware.ClientIP(r, h.cfg.TrustProxy)
	// The booking outlives a browser that navigates away; the booker applies
	// its own timeout.
	ctx := booking.WithSubmitter(context.WithoutCancel(r.Context()), token, ip)

	err := v.Modal.Submit(ctx)
	outcome, status, code := submitOutcome(err)
	h.metrics.DemoSubmissions.WithLabelValues(outcome).Inc()
	if err != nil && outcome != "ignored" && outcome != "invalid" {
		h.log.Info("demo submission failed", zap.String("visitor_id", v.ID), zap.String("outcome", outcome), zap.Error(err))
	}
	h.respondDemo(w, r, status, v.Modal, code)
}

func submitOutcome(err error) (outcome string, status int, code string) {
	var verr *demo.ValidationError
	switch {
	case err == nil:
		return "succeeded", http.StatusOK, ""
	case errors.Is(err, demo.ErrSubmitInFlight):
		return "ignored", http.StatusConflict, "submit_in_flight"
	case errors.Is(err, demo.ErrModalClosed):
		return "ignored", http.StatusConflict, "modal_closed"
	case errors.As(err, &verr):
		return "invalid", http.StatusUnprocessableEntity, "missing_fields"
	case errors.Is(err, demo.ErrRejected):
		return "rejected", http.StatusOK, ""
	default:
		return "network", http.StatusOK, ""
	}
}
