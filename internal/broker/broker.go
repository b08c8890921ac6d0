// Package broker mints one-time realtime credentials from the long-lived API
// key, so the key itself never reaches the session client.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gothera/docsign2/internal/httpserver"
	"github.com/gothera/docsign2/internal/metrics"
)

const (
	defaultUpstreamTimeout = 15 * time.Second
	maxUpstreamBodyBytes   = 1 << 20

	missingKeyDetail = "OPENAI_API_KEY not set in environment"
)

type Config struct {
	// SessionsURL is the upstream endpoint that mints credentials.
	SessionsURL string
	APIKey      string
	Model       string
	Voice       string

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

type Broker struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

func New(cfg Config) *Broker {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultUpstreamTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{cfg: cfg, client: client, log: logger}
}

func (b *Broker) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /token", b.handleToken)
}

type sessionRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (b *Broker) handleToken(w http.ResponseWriter, r *http.Request) {
	if b.cfg.APIKey == "" {
		httpserver.WriteJSON(w, http.StatusInternalServerError, errorResponse{Detail: missingKeyDetail})
		return
	}

	status, body, err := b.mint(r.Context())
	if err != nil {
		b.cfg.Metrics.Inc(metrics.TokenUpstreamFailure)
		b.log.Warn("credential upstream request failed", "err", err)
		httpserver.WriteJSON(w, http.StatusBadGateway, errorResponse{Detail: err.Error()})
		return
	}
	if status < 200 || status > 299 {
		b.cfg.Metrics.Inc(metrics.TokenUpstreamFailure)
		b.log.Warn("credential upstream rejected request", "status", status)
		httpserver.WriteJSON(w, status, errorResponse{Detail: fmt.Sprintf("upstream status %d: %s", status, upstreamDetail(body))})
		return
	}

	b.cfg.Metrics.Inc(metrics.TokenIssued)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// mint returns the upstream status and body. The body is checked to be JSON
// so a misbehaving upstream is not passed through as a credential.
func (b *Broker) mint(ctx context.Context) (int, []byte, error) {
	reqBody, err := json.Marshal(sessionRequest{Model: b.cfg.Model, Voice: b.cfg.Voice})
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.SessionsURL, bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 && !json.Valid(body) {
		return 0, nil, fmt.Errorf("upstream returned non-JSON body")
	}
	return resp.StatusCode, body, nil
}

func upstreamDetail(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
