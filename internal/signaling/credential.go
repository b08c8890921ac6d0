package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const maxTokenResponseBytes = 64 << 10

// Credential is the ephemeral bearer secret for one negotiation. It renders
// redacted through fmt and slog.
type Credential struct {
	value     string
	ExpiresAt int64
}

func (c Credential) Value() string { return c.value }

func (c Credential) String() string {
	if c.value == "" {
		return "<empty>"
	}
	return "<redacted>"
}

func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

type tokenResponse struct {
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

func (c *Client) fetchCredential(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.TokenURL, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCredentialFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCredentialFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: read body: %v", ErrCredentialFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credential{}, fmt.Errorf("%w: broker returned %d: %s", ErrCredentialFetch, resp.StatusCode, snippet(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credential{}, fmt.Errorf("%w: decode: %v", ErrCredentialFetch, err)
	}
	if tr.ClientSecret == nil || strings.TrimSpace(tr.ClientSecret.Value) == "" {
		return Credential{}, fmt.Errorf("%w: response has no client_secret.value", ErrCredentialFetch)
	}
	return Credential{value: tr.ClientSecret.Value, ExpiresAt: tr.ClientSecret.ExpiresAt}, nil
}

func snippet(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
