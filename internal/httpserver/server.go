// Package httpserver is the HTTP shell shared by the control API and the
// credential broker: health checks, request logging, CORS and graceful shutdown.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gothera/docsign2/internal/config"
	"github.com/gothera/docsign2/internal/metrics"
	"github.com/gothera/docsign2/internal/origin"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Server struct {
	log     *slog.Logger
	cfg     config.Config
	build   BuildInfo
	metrics *metrics.Metrics
	origins origin.Policy

	ready atomic.Bool

	checksMu sync.Mutex
	checks   []readinessCheck

	mux *http.ServeMux
	srv *http.Server
}

type readinessCheck struct {
	name string
	fn   func() error
}

var errNotServing = errors.New("not serving")

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:     logger,
		cfg:     cfg,
		build:   build,
		metrics: m,
		origins: origin.NewPolicy(cfg.AllowedOrigins),
		mux:     http.NewServeMux(),
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
		s.originMiddleware(),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// No read/write timeouts: /session/ws is long-lived.
	}

	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Handler is the full middleware chain, for tests that drive the server
// without a listener.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Origins is the policy the server enforces, for WebSocket upgraders.
func (s *Server) Origins() origin.Policy {
	return s.origins
}

// AddReadinessCheck makes /readyz fail while fn returns an error.
func (s *Server) AddReadinessCheck(name string, fn func() error) {
	s.checksMu.Lock()
	s.checks = append(s.checks, readinessCheck{name: name, fn: fn})
	s.checksMu.Unlock()
}

// readiness returns the first failing condition and, for registered checks,
// its name.
func (s *Server) readiness() (string, error) {
	if !s.ready.Load() {
		return "", errNotServing
	}
	if err := s.cfg.ICEConfigError(); err != nil {
		return "ice_servers", err
	}
	s.checksMu.Lock()
	checks := append([]readinessCheck(nil), s.checks...)
	s.checksMu.Unlock()
	for _, c := range checks {
		if err := c.fn(); err != nil {
			return c.name, err
		}
	}
	return "", nil
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if check, err := s.readiness(); err != nil {
			body := map[string]any{"ready": false, "error": err.Error()}
			if check != "" {
				body["check"] = check
			}
			WriteJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.metrics))
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

// DecodeJSON reads a bounded JSON request body into v, rejecting unknown
// fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
