// Package auth guards the control API.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gothera/docsign2/internal/config"
	"github.com/gothera/docsign2/internal/metrics"
)

type Verifier interface {
	Verify(credential string) error
}

// NewVerifier returns nil when the mode disables authentication.
func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.ControlAuthMode {
	case config.AuthModeNone:
		return nil, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.ControlAPIKey}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.ControlAuthMode)
	}
}

var ErrMissingCredentials = errors.New("missing credentials")

// CredentialFromRequest looks for an API key in, in order, the Authorization
// bearer token, the X-API-Key header and the apiKey query parameter. The
// query form exists for browser WebSocket clients, which cannot set headers.
func CredentialFromRequest(r *http.Request) (string, error) {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, nil
	}
	if key := r.URL.Query().Get("apiKey"); key != "" {
		return key, nil
	}
	return "", ErrMissingCredentials
}

// Middleware rejects requests that fail v. A nil v lets everything through.
func Middleware(v Verifier, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Preflight requests carry no credentials.
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				next.ServeHTTP(w, r)
				return
			}
			cred, err := CredentialFromRequest(r)
			if err == nil {
				err = v.Verify(cred)
			}
			if err != nil {
				m.Inc(metrics.AuthFailure)
				logger.Warn("control api auth failed", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "err", err)
				w.Header().Set("WWW-Authenticate", `Bearer realm="docsign"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
