package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vigil/internal/config"
)

var (
	ErrCaptchaRequired    = errors.New("captcha_required")
	ErrCaptchaUnavailable = errors.New("captcha_unavailable")
)

// Verifier checks the challenge token submitted with a demo booking.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type NoopVerifier struct{}

func (NoopVerifier) Verify(ctx context.Context, token, remoteIP string) error { return nil }

// HTTPVerifier talks to a siteverify endpoint. Turnstile and hCaptcha take
// form-encoded bodies; CAP takes JSON and treats any non-2xx as an outage.
type HTTPVerifier struct {
	provider  string
	verifyURL string
	secret    string
	client    *http.Client
}

func NewVerifier(cfg config.Config) Verifier {
	if !cfg.CaptchaEnabled {
		return NoopVerifier{}
	}
	return &HTTPVerifier{
		provider:  strings.ToLower(strings.TrimSpace(cfg.CaptchaProvider)),
		verifyURL: strings.TrimSpace(cfg.CaptchaVerifyURL),
		secret:    strings.TrimSpace(cfg.CaptchaSecret),
		client:    &http.Client{Timeout: 8 * time.Second},
	}
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Error      string   `json:"error"`
	Message    string   `json:"message"`
}

func (r verifyResponse) reason() string {
	switch {
	case strings.TrimSpace(r.Error) != "":
		return r.Error
	case strings.TrimSpace(r.Message) != "":
		return r.Message
	case len(r.ErrorCodes) > 0:
		return strings.Join(r.ErrorCodes, ",")
	}
	return "rejected"
}

func (v *HTTPVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: captcha token is required", ErrCaptchaRequired)
	}
	remoteIP = strings.TrimSpace(remoteIP)

	var (
		body        io.Reader
		contentType string
		jsonAPI     bool
	)
	switch v.provider {
	case "", "turnstile", "hcaptcha":
		form := url.Values{"secret": {v.secret}, "response": {token}}
		if remoteIP != "" {
			form.Set("remoteip", remoteIP)
		}
		body, contentType = strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"
	case "cap":
		payload := map[string]string{"secret": v.secret, "response": token}
		if remoteIP != "" {
			payload["remoteip"] = remoteIP
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
		}
		body, contentType, jsonAPI = bytes.NewReader(raw), "application/json", true
	default:
		return fmt.Errorf("%w: unsupported captcha provider %q", ErrCaptchaUnavailable, v.provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	req.Header.Set("Content-Type", contentType)
	return v.do(req, jsonAPI)
}

func (v *HTTPVerifier) do(req *http.Request, jsonAPI bool) error {
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok && (jsonAPI || resp.StatusCode >= 500) {
		return fmt.Errorf("%w: captcha verify HTTP %d", ErrCaptchaUnavailable, resp.StatusCode)
	}
	if !ok {
		return fmt.Errorf("%w: captcha verify HTTP %d", ErrCaptchaRequired, resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	if !out.Success {
		return fmt.Errorf("%w: %s", ErrCaptchaRequired, out.reason())
	}
	return nil
}
