package api

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/internal/booking"
	"vigil/internal/captcha"
	"vigil/internal/config"
	"vigil/internal/db"
	"vigil/internal/demo"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/service"
	"vigil/internal/site"
	"vigil/internal/store"
)

type testEnv struct {
	srv     *httptest.Server
	svc     *service.Service
	db      *sql.DB
	metrics *metrics.Metrics
	reg     *site.Registry
}

type envOption func(*config.Config, *envParts)

type envParts struct {
	booker   demo.Booker
	verifier captcha.Verifier
}

func withConfig(fn func(*config.Config)) envOption {
	return func(c *config.Config, _ *envParts) { fn(c) }
}

func withBooker(b demo.Booker) envOption {
	return func(_ *config.Config, p *envParts) { p.booker = b }
}

func withVerifier(v captcha.Verifier) envOption {
	return func(_ *config.Config, p *envParts) { p.verifier = v }
}

func testConfig() config.Config {
	return config.Config{
		ListenAddr:           "127.0.0.1:0",
		AppEnv:               "test",
		DBDriver:             db.DriverSQLite,
		SessionCookieName:    "vigil_session",
		SessionIdleMinutes:   30,
		CSRFCookieName:       "vigil_csrf",
		LoginRatePerMinute:   100,
		BookingTimeoutSec:    5,
		BookingRatePerMinute: 100,
		NotifySender:         "log",
	}
}

// neverFires keeps the demo auto-close from racing the assertions.
func neverFires(time.Duration, func()) func() bool { return func() bool { return true } }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := testConfig()
	parts := &envParts{verifier: captcha.NoopVerifier{}}
	for _, opt := range opts {
		opt(&cfg, parts)
	}

	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "api.db"), 1, 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqdb.Close() })
	require.NoError(t, db.Migrate(sqdb, db.DriverSQLite))

	log := zap.NewNop()
	svc := service.New(store.New(sqdb, db.DriverSQLite), notify.NewLogSender(log), parts.verifier, log)
	t.Cleanup(svc.Close)

	booker := parts.booker
	if booker == nil {
		booker = booking.NewLocalBooker(svc)
	}
	reg := site.NewRegistry(booker, time.Hour, log, demo.WithAfterFunc(neverFires))
	t.Cleanup(reg.Close)

	sm := scs.New()
	sm.Cookie.Name = cfg.SessionCookieName
	m := metrics.New()

	srv := httptest.NewServer(NewRouter(cfg, Deps{
		Service:  svc,
		Registry: reg,
		Sessions: sm,
		Metrics:  m,
		Logger:   log,
	}))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, svc: svc, db: sqdb, metrics: m, reg: reg}
}

// browser is a cookie-keeping client that does not follow redirects.
type browser struct {
	t      *testing.T
	base   *url.URL
	client *http.Client
}

func (e *testEnv) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse(e.srv.URL)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: base,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) cookie(name string) string {
	for _, c := range b.client.Jar.Cookies(b.base) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (b *browser) csrf() string {
	if tok := b.cookie("vigil_csrf"); tok != "" {
		return tok
	}
	resp := b.get("/", false)
	resp.Body.Close()
	return b.cookie("vigil_csrf")
}

func (b *browser) do(req *http.Request, jsonAccept bool) *http.Response {
	b.t.Helper()
	if jsonAccept {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *browser) get(path string, jsonAccept bool) *http.Response {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base.String()+path, nil)
	require.NoError(b.t, err)
	return b.do(req, jsonAccept)
}

// post sends form with the browser's CSRF token.
func (b *browser) post(path string, form url.Values, jsonAccept bool) *http.Response {
	b.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", b.csrf())
	return b.postRaw(path, form, jsonAccept)
}

func (b *browser) postRaw(path string, form url.Values, jsonAccept bool) *http.Response {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base.String()+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req, jsonAccept)
}

func (b *browser) postJSON(path string, body string, csrf bool) *http.Response {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base.String()+path, strings.NewReader(body))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	if csrf {
		req.Header.Set("X-CSRF-Token", b.csrf())
	}
	return b.do(req, true)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func bodyString(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}
