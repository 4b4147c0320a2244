package api

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"math"
	"net/http"

	"go.uber.org/zap"

	"vigil/internal/demo"
	"vigil/internal/middleware"
	"vigil/internal/session"
)

//go:embed web/templates/*.html
var templateFS embed.FS

//go:embed web/static
var staticFS embed.FS

type ShellView struct {
	ID    string
	Label string
}

// ShellViews are the dashboard sections offered in the shell navigation.
var ShellViews = []ShellView{
	{"live", "Live View"},
	{"alerts", "Alerts"},
	{"cameras", "Cameras"},
	{"reports", "Reports"},
	{"settings", "Settings"},
}

type pages struct {
	landing *template.Template
	login   *template.Template
	shell   *template.Template
}

func mustParsePages() *pages {
	funcs := template.FuncMap{
		"percent": func(ratio float64) int { return int(math.Round(ratio * 100)) },
	}
	parse := func(name string) *template.Template {
		return template.Must(template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "web/templates/layout.html", "web/templates/"+name))
	}
	return &pages{
		landing: parse("landing.html"),
		login:   parse("login.html"),
		shell:   parse("shell.html"),
	}
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "web/static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

type pageData struct {
	Title     string
	CSRFToken string
}

type landingData struct {
	pageData
	Modal          demo.Snapshot
	MaxMessage     int
	RoleChoices    []demo.Choice
	CameraChoices  []demo.Choice
	CaptchaSiteKey string
	CaptchaScript  string
	CaptchaClass   string
}

type loginData struct {
	pageData
	Roles      []loginRole
	Passphrase bool
	Error      string
}

type loginRole struct {
	Value       string
	DisplayName string
}

type shellData struct {
	pageData
	Shell session.ShellProps
	Views []ShellView
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, t *template.Template, data any) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		h.log.Error("render page", zap.Error(err), zap.String("request_id", middleware.RequestID(r.Context())))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handlers) basePage(r *http.Request, title string) pageData {
	return pageData{Title: title, CSRFToken: middleware.CSRFToken(r.Context())}
}

// captchaWidget returns the widget script and its container class.
func (h *Handlers) captchaWidget() (script, class string) {
	if !h.cfg.CaptchaEnabled {
		return "", ""
	}
	switch h.cfg.CaptchaProvider {
	case "hcaptcha":
		return "https://js.hcaptcha.com/1/api.js", "h-captcha"
	case "cap":
		// Self-hosted; the embedding page supplies captcha_token itself.
		return "", ""
	default:
		return "https://challenges.cloudflare.com/turnstile/v0/api.js", "cf-turnstile"
	}
}

// Landing renders the marketing page with the visitor's demo modal.
func (h *Handlers) Landing(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	script, class := h.captchaWidget()
	h.render(w, r, http.StatusOK, h.pages.landing, landingData{
		pageData:       h.basePage(r, "Vigil | Video security operations"),
		Modal:          v.Modal.Snapshot(),
		MaxMessage:     demo.MaxMessageLength,
		RoleChoices:    demo.RoleChoices,
		CameraChoices:  demo.CameraChoices,
		CaptchaSiteKey: h.cfg.CaptchaSiteKey,
		CaptchaScript:  script,
		CaptchaClass:   class,
	})
}

// App renders the login screen or the shell depending on the session.
func (h *Handlers) App(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	screen := session.Resolve(r.URL.Path, v.Session.State())
	switch screen.Kind {
	case session.ScreenShell:
		shell, ok := v.Session.ShellProps()
		if !ok {
			h.renderLogin(w, r, http.StatusOK, "")
			return
		}
		h.render(w, r, http.StatusOK, h.pages.shell, shellData{
			pageData: h.basePage(r, "Vigil | Operations"),
			Shell:    shell,
			Views:    ShellViews,
		})
	case session.ScreenLogin:
		h.renderLogin(w, r, http.StatusOK, "")
	default:
		http.Redirect(w, r, screen.Target, http.StatusFound)
	}
}

func (h *Handlers) renderLogin(w http.ResponseWriter, r *http.Request, status int, msg string) {
	roles := make([]loginRole, 0, len(session.LoginRoles))
	for _, role := range session.LoginRoles {
		roles = append(roles, loginRole{Value: role.String(), DisplayName: role.DisplayName()})
	}
	h.render(w, r, status, h.pages.login, loginData{
		pageData:   h.basePage(r, "Vigil | Sign in"),
		Roles:      roles,
		Passphrase: h.gate.Enabled(),
		Error:      msg,
	})
}
