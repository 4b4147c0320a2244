package middleware

import (
	"context"
	"net/http"

	"vigil/internal/site"
)

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxVisitor   ctxKey = "visitor"
	ctxCSRF      ctxKey = "csrf"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func WithVisitor(ctx context.Context, v *site.Visitor) context.Context {
	return context.WithValue(ctx, ctxVisitor, v)
}

func Visitor(ctx context.Context) (*site.Visitor, bool) {
	v, ok := ctx.Value(ctxVisitor).(*site.Visitor)
	return v, ok && v != nil
}

func WithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxCSRF, token)
}

func CSRFToken(ctx context.Context) string {
	v, _ := ctx.Value(ctxCSRF).(string)
	return v
}

// SecurityHeaders sets a CSP that admits the configured captcha widget.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "same-origin")
		w.Header().Set(
			"Content-Security-Policy",
			"default-src 'self'; "+
				"img-src 'self' data:; "+
				"style-src 'self' 'unsafe-inline'; "+
				"script-src 'self' https://challenges.cloudflare.com https://js.hcaptcha.com https://hcaptcha.com; "+
				"frame-src https://challenges.cloudflare.com https://hcaptcha.com https://*.hcaptcha.com; "+
				"connect-src 'self'; frame-ancestors 'none'; base-uri 'self'; form-action 'self'",
		)
		next.ServeHTTP(w, r)
	})
}
