package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/gothera/docsign2/internal/auth"
	"github.com/gothera/docsign2/internal/broker"
	"github.com/gothera/docsign2/internal/config"
	"github.com/gothera/docsign2/internal/control"
	"github.com/gothera/docsign2/internal/httpserver"
	"github.com/gothera/docsign2/internal/metrics"
	"github.com/gothera/docsign2/internal/session"
	"github.com/gothera/docsign2/internal/signaling"
	"github.com/gothera/docsign2/internal/tools"
	"github.com/gothera/docsign2/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	// Built early so network misconfiguration fails startup. No sockets are
	// opened until a session negotiates.
	api, err := webrtcpeer.NewAPI(cfg, logger)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	toolDefs, err := loadToolDefinitions(cfg.ToolsFile)
	if err != nil {
		logger.Error("failed to load tool definitions", "tools_file", cfg.ToolsFile, "err", err)
		os.Exit(2)
	}

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		logger.Error("failed to configure control auth", "err", err)
		os.Exit(2)
	}

	logger.Info("starting docsign-realtime",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"model", cfg.Model,
		"token_url", cfg.TokenURL,
		"broker_enabled", cfg.OpenAIAPIKey != "",
		"document_service_configured", cfg.DocumentServiceURL != "",
		"tools", len(toolDefs),
		"use_mic", cfg.UseMic,
		"record_remote_audio", cfg.RemoteAudioPath != "",
		"control_auth_mode", cfg.ControlAuthMode,
		"ice_servers", len(cfg.ICEServers),
	)
	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()

	var executor tools.Executor
	if cfg.DocumentServiceURL != "" {
		executor = tools.NewHTTPExecutor(cfg.DocumentServiceURL, nil)
	}

	newSource, newSink := audioFactories(cfg, logger)
	sigClient := signaling.NewClient(signaling.Config{
		TokenURL:            cfg.TokenURL,
		RealtimeURL:         cfg.RealtimeURL,
		Model:               cfg.Model,
		API:                 api,
		ICEServers:          sessionICEServers(cfg),
		ICEGatheringTimeout: cfg.ICEGatheringTimeout,
		NewSource:           newSource,
		NewSink:             newSink,
		Logger:              logger,
		Metrics:             m,
	})

	ctrl := session.NewController(session.Options{
		Negotiator:         session.SignalingNegotiator{Client: sigClient},
		Executor:           executor,
		Tools:              toolDefs,
		ResolveDocumentID:  cfg.DocumentID,
		ConnectTimeout:     cfg.ConnectTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		FollowUpDelay:      cfg.FollowUpDelay,
		Logger:             logger,
		Metrics:            m,
	})
	defer ctrl.Close()

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt}, m)
	srv.AddReadinessCheck("token_broker", func() error {
		if cfg.OpenAIAPIKey == "" && tokenURLIsLocal(cfg) {
			return errors.New("TOKEN_URL points at this process but OPENAI_API_KEY is not set")
		}
		return nil
	})

	broker.New(broker.Config{
		SessionsURL: cfg.RealtimeSessionsURL,
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.Model,
		Voice:       cfg.Voice,
		Logger:      logger,
		Metrics:     m,
	}).RegisterRoutes(srv.Mux())

	control.New(control.Options{
		Controller:          ctrl,
		Verifier:            verifier,
		Origins:             srv.Origins(),
		WSMessagesPerSecond: cfg.ControlWSMessagesPerSecond,
		Logger:              logger,
		Metrics:             m,
	}).RegisterRoutes(srv.Mux())

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			ctrl.Close()
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Drop the realtime session first so /session/ws clients see it end.
	ctrl.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func loadToolDefinitions(path string) ([]tools.Definition, error) {
	if path == "" {
		return tools.Builtin(), nil
	}
	return tools.LoadDefinitions(path)
}

// tokenURLIsLocal reports whether the session client fetches credentials from
// this process's own broker.
func tokenURLIsLocal(cfg config.Config) bool {
	u, err := url.Parse(cfg.TokenURL)
	if err != nil {
		return false
	}
	_, listenPort, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil || u.Port() != listenPort {
		return false
	}
	return isLoopbackHost(u.Hostname())
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// ldflags win; VCS stamps cover `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return commit, buildTime
}
