package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/internal/booking"
	"vigil/internal/captcha"
	"vigil/internal/config"
	"vigil/internal/demo"
)

func fillDemo(t *testing.T, b *browser) {
	t.Helper()
	fields := [][2]string{
		{"fullName", "A. Lee"},
		{"email", "a@x.io"},
		{"phone", "555-0100"},
		{"organization", "Acme"},
		{"cameras", "11-50"},
	}
	for _, f := range fields {
		resp := b.post("/demo/field", url.Values{"field": {f[0]}, "value": {f[1]}}, true)
		require.Equal(t, http.StatusOK, resp.StatusCode, f[0])
	}
}

func TestDemoOpenFillSubmit(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	resp := b.post("/demo/open", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[demoResponse](t, resp)
	assert.True(t, snap.Open)
	assert.Zero(t, snap.CompletionRatio)

	fillDemo(t, b)
	snap = decode[demoResponse](t, b.get("/demo/state", true))
	assert.InDelta(t, 5.0/7.0, snap.CompletionRatio, 1e-9)
	assert.Equal(t, "Acme", snap.Fields.Organization)

	resp = b.post("/demo/submit", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap = decode[demoResponse](t, resp)
	assert.Equal(t, demo.StateSucceeded, snap.State)
	assert.Equal(t, demo.MessageSuccess, snap.Feedback)
	assert.Equal(t, demo.FeedbackSuccess, snap.FeedbackKind)
	assert.Equal(t, demo.Request{}, snap.Fields)
	assert.True(t, snap.Open, "the modal stays open until the auto-close fires")

	res, err := env.svc.ListBookings(context.Background(), "", 1, 10)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "a@x.io", res.Items[0].Email)
	assert.Equal(t, "11-50", res.Items[0].Cameras)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.DemoSubmissions.WithLabelValues("succeeded")))
}

func TestDemoSubmitWithMissingFields(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	b.post("/demo/open", nil, true)
	b.post("/demo/field", url.Values{"field": {"email"}, "value": {"a@x.io"}}, true)

	resp := b.post("/demo/submit", nil, true)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	snap := decode[demoResponse](t, resp)
	assert.Equal(t, "missing_fields", snap.Error)
	assert.Equal(t, demo.StateIdle, snap.State)
	assert.Equal(t, demo.MessageValidation, snap.Feedback)
	assert.Equal(t, "a@x.io", snap.Fields.Email)

	res, err := env.svc.ListBookings(context.Background(), "", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestDemoFieldErrors(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	resp := b.post("/demo/field", url.Values{"field": {"email"}, "value": {"a@x.io"}}, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "modal_closed", decode[demoResponse](t, resp).Error)

	b.post("/demo/open", nil, true)
	resp = b.post("/demo/field", url.Values{"field": {"fax"}, "value": {"1"}}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = b.post("/demo/field", url.Values{"field": {"cameras"}, "value": {"9000"}}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_choice", decode[demoResponse](t, resp).Error)
}

func TestDemoMessageIsCapped(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	b.post("/demo/open", nil, true)

	resp := b.post("/demo/field", url.Values{"field": {"message"}, "value": {strings.Repeat("x", 900)}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[demoResponse](t, resp).Fields.Message, demo.MaxMessageLength)
}

func TestDemoCloseDiscardsForm(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	b.post("/demo/open", nil, true)
	fillDemo(t, b)

	snap := decode[demoResponse](t, b.post("/demo/close", nil, true))
	assert.False(t, snap.Open)

	snap = decode[demoResponse](t, b.post("/demo/open", nil, true))
	assert.Equal(t, demo.Request{}, snap.Fields)
}

func TestDemoVisitorsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	alice := env.browser(t)
	bob := env.browser(t)

	alice.post("/demo/open", nil, true)
	alice.post("/demo/field", url.Values{"field": {"fullName"}, "value": {"Alice"}}, true)

	snap := decode[demoResponse](t, bob.get("/demo/state", true))
	assert.False(t, snap.Open)
	assert.Empty(t, snap.Fields.FullName)
}

func TestDemoRejectedByRemoteEndpoint(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer remote.Close()

	env := newTestEnv(t, withBooker(booking.NewClient(remote.URL, time.Second, zap.NewNop())))
	b := env.browser(t)
	b.post("/demo/open", nil, true)
	fillDemo(t, b)

	resp := b.post("/demo/submit", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[demoResponse](t, resp)
	assert.Equal(t, demo.StateFailed, snap.State)
	assert.Equal(t, demo.MessageRejected, snap.Feedback)
	assert.Equal(t, "Acme", snap.Fields.Organization, "fields survive a failure")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.DemoSubmissions.WithLabelValues("rejected")))
}

func TestDemoUnreachableEndpoint(t *testing.T) {
	remote := httptest.NewServer(http.NotFoundHandler())
	endpoint := remote.URL
	remote.Close()

	env := newTestEnv(t, withBooker(booking.NewClient(endpoint, time.Second, zap.NewNop())))
	b := env.browser(t)
	b.post("/demo/open", nil, true)
	fillDemo(t, b)

	snap := decode[demoResponse](t, b.post("/demo/submit", nil, true))
	assert.Equal(t, demo.StateFailed, snap.State)
	assert.Equal(t, demo.MessageNetwork, snap.Feedback)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.DemoSubmissions.WithLabelValues("network")))
}

func TestDemoPlainFormFallback(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	resp := b.post("/demo/open", nil, false)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/#demo", resp.Header.Get("Location"))

	resp = b.post("/demo/submit", url.Values{
		"fullName":     {"A. Lee"},
		"email":        {"a@x.io"},
		"phone":        {"555"},
		"organization": {"Acme"},
		"role":         {"security"},
		"message":      {"Two warehouses"},
	}, false)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	page := bodyString(t, b.get("/", false))
	assert.Contains(t, page, "Demo request submitted successfully")

	res, err := env.svc.ListBookings(context.Background(), "", 1, 10)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "security", res.Items[0].Role)
	assert.Equal(t, "Two warehouses", res.Items[0].Message)
}

func TestDemoSubmitWhileClosed(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	resp := b.post("/demo/submit", nil, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.DemoSubmissions.WithLabelValues("ignored")))
}

type tokenVerifier struct{ want string }

func (v tokenVerifier) Verify(_ context.Context, token, remoteIP string) error {
	if token != v.want || remoteIP == "" {
		return captcha.ErrCaptchaRequired
	}
	return nil
}

func TestDemoSubmitForwardsCaptchaToken(t *testing.T) {
	env := newTestEnv(t,
		withVerifier(tokenVerifier{want: "tok-1"}),
		withConfig(func(c *config.Config) {
			c.CaptchaEnabled = true
			c.CaptchaProvider = "turnstile"
			c.CaptchaSiteKey = "site-key-1"
		}),
	)
	b := env.browser(t)

	page := bodyString(t, b.get("/", false))
	assert.Contains(t, page, `class="cf-turnstile" data-sitekey="site-key-1"`)

	b.post("/demo/open", nil, true)
	fillDemo(t, b)

	snap := decode[demoResponse](t, b.post("/demo/submit", nil, true))
	assert.Equal(t, demo.MessageRejected, snap.Feedback)

	snap = decode[demoResponse](t, b.post("/demo/submit", url.Values{"cf-turnstile-response": {"tok-1"}}, true))
	assert.Equal(t, demo.StateSucceeded, snap.State)
}
