// Package booking delivers demo requests to the booking endpoint.
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vigil/internal/captcha"
	"vigil/internal/demo"
	"vigil/internal/service"
)

type ctxKey int

const (
	ctxCaptchaToken ctxKey = iota
	ctxSourceIP
)

// WithSubmitter attaches the visitor's captcha token and address to ctx so
// a Booker can forward them with the request.
func WithSubmitter(ctx context.Context, captchaToken, sourceIP string) context.Context {
	ctx = context.WithValue(ctx, ctxCaptchaToken, captchaToken)
	return context.WithValue(ctx, ctxSourceIP, sourceIP)
}

func submitter(ctx context.Context) (captchaToken, sourceIP string) {
	captchaToken, _ = ctx.Value(ctxCaptchaToken).(string)
	sourceIP, _ = ctx.Value(ctxSourceIP).(string)
	return captchaToken, sourceIP
}

type wireRequest struct {
	demo.Request
	CaptchaToken string `json:"captcha_token,omitempty"`
}

// Client posts demo requests to a remote booking endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	log      *zap.Logger
}

func NewClient(endpoint string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{endpoint: endpoint, http: &http.Client{Timeout: timeout}, log: log}
}

// Book sends req. Any non-2xx answer wraps demo.ErrRejected; failing to get
// an answer at all wraps demo.ErrUnreachable.
func (c *Client) Book(ctx context.Context, req demo.Request) error {
	token, ip := submitter(ctx)
	body, err := json.Marshal(wireRequest{Request: req, CaptchaToken: token})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", demo.ErrUnreachable, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", demo.ErrUnreachable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if ip != "" {
		httpReq.Header.Set("X-Forwarded-For", ip)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.Warn("booking endpoint unreachable", zap.String("endpoint", c.endpoint), zap.Error(err))
		return fmt.Errorf("%w: %v", demo.ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("booking endpoint rejected request", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: HTTP %d", demo.ErrRejected, resp.StatusCode)
	}
	return nil
}

// LocalBooker hands demo requests to the in-process booking service. It is
// used when no remote endpoint is configured.
type LocalBooker struct {
	svc *service.Service
}

func NewLocalBooker(svc *service.Service) *LocalBooker {
	return &LocalBooker{svc: svc}
}

func (b *LocalBooker) Book(ctx context.Context, req demo.Request) error {
	token, ip := submitter(ctx)
	_, err := b.svc.CreateBooking(ctx, service.BookingInput{
		FullName:     req.FullName,
		Email:        req.Email,
		Phone:        req.Phone,
		Organization: req.Organization,
		Role:         req.Role,
		Cameras:      req.Cameras,
		Message:      req.Message,
		CaptchaToken: token,
	}, ip)
	if err == nil {
		return nil
	}
	if errors.Is(err, captcha.ErrCaptchaUnavailable) {
		return fmt.Errorf("%w: %v", demo.ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", demo.ErrRejected, err)
}
