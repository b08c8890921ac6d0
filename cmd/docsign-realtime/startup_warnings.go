package main

import (
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gothera/docsign2/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ControlAuthMode == config.AuthModeNone && !isLoopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup security warning: CONTROL_AUTH_MODE=none on a non-loopback listener lets anyone on the network drive the session",
			"warning_code", "control_auth_mode_none",
			"control_auth_mode", cfg.ControlAuthMode,
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	// GET /token mints credentials billed to OPENAI_API_KEY.
	if cfg.OpenAIAPIKey != "" && !isLoopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup security warning: the /token broker is reachable beyond loopback (anyone who can reach it can mint realtime credentials)",
			"warning_code", "token_broker_exposed",
			"listen_addr", cfg.ListenAddr,
			"control_auth_mode", cfg.ControlAuthMode,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && strings.HasPrefix(strings.ToLower(strings.TrimSpace(cfg.TokenURL)), "http://") && !isLoopbackURL(cfg.TokenURL) {
		logger.Warn("startup security warning: TOKEN_URL uses plain http to a remote host while --mode=prod",
			"warning_code", "token_url_insecure",
			"token_url_host", safeURLHost(cfg.TokenURL),
			"mode", cfg.Mode,
		)
	}

	if cfg.WebRTCSCTPMaxReceiveBufferBytes > 8<<20 {
		logger.Warn("startup security warning: WEBRTC_SCTP_MAX_RECEIVE_BUFFER_BYTES is very large (increases receive-side buffering/allocation risk)",
			"warning_code", "webrtc_sctp_max_receive_buffer_large",
			"webrtc_sctp_max_receive_buffer_bytes", cfg.WebRTCSCTPMaxReceiveBufferBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.SCTPReceiveBufferTooSmall() {
		logger.Warn("startup warning: WEBRTC_SCTP_MAX_RECEIVE_BUFFER_BYTES is small; large response.done events may stall the data channel",
			"warning_code", "webrtc_sctp_max_receive_buffer_small",
			"webrtc_sctp_max_receive_buffer_bytes", cfg.WebRTCSCTPMaxReceiveBufferBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.ConnectTimeout > 2*time.Minute {
		logger.Warn("startup warning: CONNECT_TIMEOUT is very large (a stalled negotiation holds the session for that long)",
			"warning_code", "connect_timeout_large",
			"connect_timeout", cfg.ConnectTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.DocumentServiceURL == "" {
		logger.Warn("startup warning: DOCUMENT_SERVICE_URL is unset; function calls from the model will fail",
			"warning_code", "document_service_unset",
			"mode", cfg.Mode,
		)
	}
}

// isLoopbackListenAddr reports whether addr only accepts local connections.
// An empty host binds every interface.
func isLoopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	return isLoopbackHost(host)
}

func isLoopbackURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return isLoopbackHost(u.Hostname())
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}
