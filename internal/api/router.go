package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"vigil/internal/auth"
	"vigil/internal/config"
	"vigil/internal/mail"
	"vigil/internal/metrics"
	"vigil/internal/middleware"
	"vigil/internal/rate"
	"vigil/internal/service"
	"vigil/internal/session"
	"vigil/internal/site"
	"vigil/internal/util"
)

const maxBookingBodyBytes = 16 << 10

// Deps are the long-lived components the router serves from.
type Deps struct {
	Service  *service.Service
	Registry *site.Registry
	Sessions *scs.SessionManager
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Handlers struct {
	cfg      config.Config
	svc      *service.Service
	registry *site.Registry
	sessions *scs.SessionManager
	metrics  *metrics.Metrics
	log      *zap.Logger
	limiter  *rate.Limiter
	gate     auth.Gate
	pages    *pages

	probeSMTP func(r *http.Request) error
	probeIMAP func(r *http.Request) error
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	h := &Handlers{
		cfg:      cfg,
		svc:      d.Service,
		registry: d.Registry,
		sessions: d.Sessions,
		metrics:  d.Metrics,
		log:      d.Logger,
		limiter:  rate.NewLimiter(),
		gate:     auth.NewGate(cfg.LoginPassphraseHash),
		pages:    mustParsePages(),
	}
	if cfg.NotifySender == "smtp" {
		h.probeSMTP = func(r *http.Request) error { return mail.ProbeSMTP(r.Context(), cfg) }
		if cfg.IMAPArchiveMailbox != "" {
			h.probeIMAP = func(r *http.Request) error { return mail.ProbeIMAP(r.Context(), cfg) }
		}
	}
	return h.routes()
}

func (h *Handlers) routes() http.Handler {
	cfg := h.cfg
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(h.log, cfg.TrustProxy))
	r.Use(middleware.Instrument(h.metrics))
	r.Use(middleware.SecurityHeaders)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", h.Ready)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	r.Handle("/static/*", staticHandler())

	minute := time.Minute
	r.Route("/api/demo-bookings", func(r chi.Router) {
		if len(cfg.CORSAllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   cfg.CORSAllowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
				AllowCredentials: true,
			}))
		}
		r.With(middleware.RateLimit(h.limiter, "booking", cfg.BookingRatePerMinute, minute, cfg.TrustProxy)).Post("/", h.CreateBooking)

		r.Group(func(r chi.Router) {
			r.Use(middleware.LoadVisitor(h.sessions, h.registry))
			r.Use(middleware.RequireRole(session.RoleAdmin))
			r.Get("/", h.ListBookings)
			r.Get("/{id}", h.GetBooking)
			r.With(middleware.CSRF(cfg)).Post("/{id}/status", h.UpdateBookingStatus)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.LoadVisitor(h.sessions, h.registry))
		r.Use(middleware.CSRF(cfg))

		r.Get("/", h.Landing)
		r.Get("/app", h.App)
		r.With(middleware.RateLimit(h.limiter, "login", cfg.LoginRatePerMinute, minute, cfg.TrustProxy)).Post("/app/login", h.Login)
		r.Post("/app/logout", h.Logout)
		r.Post("/app/navigate", h.Navigate)

		r.Route("/demo", func(r chi.Router) {
			r.Get("/state", h.DemoState)
			r.Post("/open", h.DemoOpen)
			r.Post("/close", h.DemoClose)
			r.Post("/field", h.DemoField)
			r.With(middleware.RateLimit(h.limiter, "demo_submit", cfg.BookingRatePerMinute, minute, cfg.TrustProxy)).Post("/submit", h.DemoSubmit)
		})
	})

	r.NotFound(h.Fallback)
	r.MethodNotAllowed(h.Fallback)
	return r
}

// Ready reports the database and, when mail is configured, the SMTP and
// IMAP servers.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	comps := map[string]any{}
	ok := true
	check := func(name string, probe func() error) {
		if err := probe(); err != nil {
			ok = false
			comps[name] = map[string]any{"ok": false, "error": err.Error()}
			return
		}
		comps[name] = map[string]any{"ok": true}
	}
	check("database", func() error { return h.svc.Ready(r.Context()) })
	if h.probeSMTP != nil {
		check("smtp", func() error { return h.probeSMTP(r) })
	}
	if h.probeIMAP != nil {
		check("imap", func() error { return h.probeIMAP(r) })
	}

	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"components": comps,
		"status":     "ready",
	}
	if !ok {
		ready["status"] = "degraded"
		util.WriteJSON(w, http.StatusServiceUnavailable, ready)
		return
	}
	util.WriteJSON(w, http.StatusOK, ready)
}

// Fallback sends every unknown page back to the landing page. API paths get
// a JSON 404 instead so clients see the mistake.
func (h *Handlers) Fallback(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/health/") {
		util.WriteError(w, http.StatusNotFound, "not_found", "no such endpoint", middleware.RequestID(r.Context()))
		return
	}
	target := session.PathRoot
	switch screen := session.Resolve(r.URL.Path, session.Anonymous{}); screen.Kind {
	case session.ScreenLogin, session.ScreenShell:
		target = session.PathApp
	case session.ScreenRedirect:
		target = screen.Target
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func parsePagination(r *http.Request) (int, int) {
	page := 1
	pageSize := 25
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil {
			if ps < 1 {
				ps = 1
			}
			if ps > 100 {
				ps = 100
			}
			pageSize = ps
		}
	}
	return page, pageSize
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// visitor returns the request's visitor. LoadVisitor guarantees one on
// every route that calls this.
func (h *Handlers) visitor(w http.ResponseWriter, r *http.Request) (*site.Visitor, bool) {
	v, ok := middleware.Visitor(r.Context())
	if !ok {
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "visitor not loaded", middleware.RequestID(r.Context()))
	}
	return v, ok
}
