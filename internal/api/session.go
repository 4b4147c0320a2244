package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"vigil/internal/auth"
	"vigil/internal/middleware"
	"vigil/internal/session"
	"vigil/internal/site"
	"vigil/internal/util"
)

// Login signs the visitor in under the posted role.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	role, err := session.ParseRole(r.PostFormValue("role"))
	if err != nil {
		h.loginFailed(w, r, http.StatusBadRequest, "invalid_role", "Select a role to continue.")
		return
	}
	if err := h.gate.Check(r.PostFormValue("passphrase")); err != nil {
		h.log.Info("login refused", zap.String("visitor_id", v.ID), zap.Error(err))
		msg := "Incorrect passphrase."
		if errors.Is(err, auth.ErrPassphraseRequired) {
			msg = "Enter the access passphrase."
		}
		h.loginFailed(w, r, http.StatusUnauthorized, "invalid_credentials", msg)
		return
	}

	if err := v.Session.Login(role); err != nil {
		if errors.Is(err, session.ErrAlreadyAuthenticated) {
			h.respondSession(w, r, http.StatusConflict, v)
			return
		}
		h.loginFailed(w, r, http.StatusBadRequest, "invalid_role", "Select a role to continue.")
		return
	}
	if err := h.sessions.RenewToken(r.Context()); err != nil {
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "cannot renew session", middleware.RequestID(r.Context()))
		return
	}
	h.metrics.Logins.Inc()
	h.log.Info("login", zap.String("visitor_id", v.ID), zap.String("role", role.String()))
	h.respondSession(w, r, http.StatusOK, v)
}

func (h *Handlers) loginFailed(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if wantsJSON(r) {
		util.WriteError(w, status, code, msg, middleware.RequestID(r.Context()))
		return
	}
	h.renderLogin(w, r, status, msg)
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	shell, ok := v.Session.ShellProps()
	if !ok {
		h.respondSession(w, r, http.StatusConflict, v)
		return
	}
	if err := shell.Logout(); err != nil {
		h.respondSession(w, r, http.StatusConflict, v)
		return
	}
	if err := h.sessions.RenewToken(r.Context()); err != nil {
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "cannot renew session", middleware.RequestID(r.Context()))
		return
	}
	h.log.Info("logout", zap.String("visitor_id", v.ID))
	h.respondSession(w, r, http.StatusOK, v)
}

func (h *Handlers) Navigate(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	view := strings.TrimSpace(r.PostFormValue("view"))
	if view == "" {
		util.WriteError(w, http.StatusBadRequest, "bad_request", "view is required", middleware.RequestID(r.Context()))
		return
	}
	shell, ok := v.Session.ShellProps()
	if !ok || shell.Navigate(view) != nil {
		if wantsJSON(r) {
			util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.RequestID(r.Context()))
			return
		}
		http.Redirect(w, r, session.PathApp, http.StatusSeeOther)
		return
	}
	h.respondSession(w, r, http.StatusOK, v)
}

// respondSession answers script clients with the session snapshot and
// sends browsers back to the app screen.
func (h *Handlers) respondSession(w http.ResponseWriter, r *http.Request, status int, v *site.Visitor) {
	if wantsJSON(r) {
		util.WriteJSON(w, status, v.Session.Snapshot())
		return
	}
	http.Redirect(w, r, session.PathApp, http.StatusSeeOther)
}
