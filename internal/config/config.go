package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	EnvListenAddr      = "DOCSIGN_LISTEN_ADDR"
	EnvMode            = "DOCSIGN_MODE"
	EnvLogFormat       = "DOCSIGN_LOG_FORMAT"
	EnvLogLevel        = "DOCSIGN_LOG_LEVEL"
	EnvShutdownTimeout = "DOCSIGN_SHUTDOWN_TIMEOUT"
	EnvAllowedOrigins  = "DOCSIGN_ALLOWED_ORIGINS"

	// Realtime endpoint and credential broker.
	EnvTokenURL            = "TOKEN_URL"
	EnvRealtimeURL         = "REALTIME_URL"
	EnvRealtimeModel       = "REALTIME_MODEL"
	EnvRealtimeVoice       = "REALTIME_VOICE"
	EnvRealtimeSessionsURL = "REALTIME_SESSIONS_URL"
	EnvOpenAIAPIKey        = "OPENAI_API_KEY"

	// Audio.
	EnvUseMic          = "USE_MIC"
	EnvMicDevice       = "MIC_DEVICE"
	EnvRemoteAudioPath = "REMOTE_AUDIO_PATH"

	// Session timing.
	EnvICEGatheringTimeout = "ICE_GATHER_TIMEOUT"
	EnvConnectTimeout      = "CONNECT_TIMEOUT"
	EnvNegotiationTimeout  = "NEGOTIATION_TIMEOUT"
	EnvFollowUpDelay       = "FOLLOW_UP_DELAY"

	// Document service.
	EnvDocumentServiceURL = "DOCUMENT_SERVICE_URL"
	EnvDataPath           = "DATA_PATH"
	EnvToolsFile          = "TOOLS_FILE"

	// Control API.
	EnvControlAuthMode            = "CONTROL_AUTH_MODE"
	EnvControlAPIKey              = "CONTROL_API_KEY"
	EnvControlWSMessagesPerSecond = "CONTROL_WS_MESSAGES_PER_SECOND"

	EnvWebRTCUDPPortMin                = "WEBRTC_UDP_PORT_MIN"
	EnvWebRTCUDPPortMax                = "WEBRTC_UDP_PORT_MAX"
	EnvWebRTCUDPListenIP               = "WEBRTC_UDP_LISTEN_IP"
	EnvWebRTCSCTPMaxReceiveBufferBytes = "WEBRTC_SCTP_MAX_RECEIVE_BUFFER_BYTES"
)

const (
	DefaultListenAddr     = "127.0.0.1:8088"
	DefaultShutdown       = 15 * time.Second
	DefaultMode           = ModeDev
	DefaultAuthMode       = AuthModeNone
	DefaultWebRTCListenIP = "0.0.0.0"
	DefaultDataPath       = "data"

	DefaultRealtimeURL   = "https://api.openai.com/v1/realtime"
	DefaultRealtimeModel = "gpt-4o-realtime-preview-2024-12-17"
	DefaultRealtimeVoice = "verse"
	DefaultSessionsURL   = "https://api.openai.com/v1/realtime/sessions"

	DefaultICEGatherTimeout   = 5 * time.Second
	DefaultConnectTimeout     = 30 * time.Second
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultFollowUpDelay      = 500 * time.Millisecond

	DefaultControlWSMessagesPerSecond = 20
)

// recommendedWebRTCUDPPortRangeSize keeps a restricted port range from being
// exhausted by ICE gathering on several interfaces.
const recommendedWebRTCUDPPortRangeSize = 100

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// TokenURL is where the session client fetches its one-time credential.
	// Defaults to this process's own /token route.
	TokenURL            string
	RealtimeURL         string
	Model               string
	Voice               string
	RealtimeSessionsURL string
	// OpenAIAPIKey enables the /token broker. Never logged.
	OpenAIAPIKey string

	UseMic          bool
	MicDevice       string
	RemoteAudioPath string

	ICEGatheringTimeout time.Duration
	// ConnectTimeout bounds how long a negotiated session may take to open its
	// data channel.
	ConnectTimeout     time.Duration
	NegotiationTimeout time.Duration
	// FollowUpDelay is how long to wait after executed tool calls before asking
	// the model to follow up. Zero disables the follow-up.
	FollowUpDelay time.Duration

	DocumentServiceURL string
	DataPath           string
	ToolsFile          string

	ControlAuthMode            AuthMode
	ControlAPIKey              string
	ControlWSMessagesPerSecond int

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion
	// uses OS ephemeral port selection.
	WebRTCUDPPortRange *UDPPortRange
	// WebRTCUDPListenIP restricts which local interface ICE binds to. 0.0.0.0
	// means all interfaces.
	WebRTCUDPListenIP net.IP
	// WebRTCSCTPMaxReceiveBufferBytes caps pion's SCTP receive buffer. Zero keeps
	// the pion default.
	WebRTCSCTPMaxReceiveBufferBytes int

	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. It is surfaced by
// /readyz instead of failing startup.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// DocumentID returns the identifier the document service expects for a file
// name.
func (c Config) DocumentID(fileName string) string {
	if fileName == "" {
		return ""
	}
	return strings.TrimRight(c.DataPath, "/") + "/" + strings.TrimLeft(fileName, "/")
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(EnvMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(EnvLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(EnvLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, EnvListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, EnvAllowedOrigins, "")

	tokenURL := envOrDefault(lookup, EnvTokenURL, "")
	realtimeURL := envOrDefault(lookup, EnvRealtimeURL, DefaultRealtimeURL)
	model := envOrDefault(lookup, EnvRealtimeModel, DefaultRealtimeModel)
	voice := envOrDefault(lookup, EnvRealtimeVoice, DefaultRealtimeVoice)
	sessionsURL := envOrDefault(lookup, EnvRealtimeSessionsURL, DefaultSessionsURL)
	openAIAPIKey := envOrDefault(lookup, EnvOpenAIAPIKey, "")

	useMic, err := envBoolOrDefault(lookup, EnvUseMic, false)
	if err != nil {
		return Config{}, err
	}
	micDevice := envOrDefault(lookup, EnvMicDevice, "")
	remoteAudioPath := envOrDefault(lookup, EnvRemoteAudioPath, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, EnvShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	iceGatherTimeout, err := envDurationOrDefault(lookup, EnvICEGatheringTimeout, DefaultICEGatherTimeout)
	if err != nil {
		return Config{}, err
	}
	connectTimeout, err := envDurationOrDefault(lookup, EnvConnectTimeout, DefaultConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	negotiationTimeout, err := envDurationOrDefault(lookup, EnvNegotiationTimeout, DefaultNegotiationTimeout)
	if err != nil {
		return Config{}, err
	}
	followUpDelay, err := envDurationOrDefault(lookup, EnvFollowUpDelay, DefaultFollowUpDelay)
	if err != nil {
		return Config{}, err
	}

	documentServiceURL := envOrDefault(lookup, EnvDocumentServiceURL, "")
	dataPath := envOrDefault(lookup, EnvDataPath, DefaultDataPath)
	toolsFile := envOrDefault(lookup, EnvToolsFile, "")

	authModeDefault := string(DefaultAuthMode)
	if raw, ok := lookup(EnvControlAuthMode); ok && strings.TrimSpace(raw) != "" {
		authModeDefault = strings.TrimSpace(raw)
	}
	controlAPIKey := envOrDefault(lookup, EnvControlAPIKey, "")
	controlWSMessagesPerSecond, err := envIntOrDefault(lookup, EnvControlWSMessagesPerSecond, DefaultControlWSMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	iceServersJSON := envOrDefault(lookup, EnvICEServersJSON, "")
	stunURLs := envOrDefault(lookup, EnvStunURLs, "")
	turnURLs := envOrDefault(lookup, EnvTurnURLs, "")
	turnUsername := envOrDefault(lookup, EnvTurnUsername, "")
	turnCredential := envOrDefault(lookup, EnvTurnCredential, "")

	var webrtcUDPPortMin uint
	if raw, ok := lookup(EnvWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = uint(p)
	}
	var webrtcUDPPortMax uint
	if raw, ok := lookup(EnvWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = uint(p)
	}
	webrtcUDPListenIPStr := envOrDefault(lookup, EnvWebRTCUDPListenIP, DefaultWebRTCListenIP)
	sctpMaxReceiveBufferBytes, err := envIntOrDefault(lookup, EnvWebRTCSCTPMaxReceiveBufferBytes, 0)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("docsign-realtime", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
		authModeStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address for the control API (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins allowed to use the control API (env "+EnvAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.StringVar(&tokenURL, "token-url", tokenURL, "Credential broker URL (default: this server's /token; env "+EnvTokenURL+")")
	fs.StringVar(&realtimeURL, "realtime-url", realtimeURL, "Realtime SDP endpoint (env "+EnvRealtimeURL+")")
	fs.StringVar(&model, "model", model, "Realtime model id (env "+EnvRealtimeModel+")")
	fs.StringVar(&voice, "voice", voice, "Assistant voice requested by the broker (env "+EnvRealtimeVoice+")")
	fs.StringVar(&sessionsURL, "realtime-sessions-url", sessionsURL, "Upstream endpoint the broker mints credentials from (env "+EnvRealtimeSessionsURL+")")

	fs.BoolVar(&useMic, "use-mic", useMic, "Send audio captured from --mic-device instead of silence (env "+EnvUseMic+")")
	fs.StringVar(&micDevice, "mic-device", micDevice, "Ogg/Opus capture device, pipe or file (env "+EnvMicDevice+")")
	fs.StringVar(&remoteAudioPath, "remote-audio-path", remoteAudioPath, "Record assistant audio to this Ogg file (env "+EnvRemoteAudioPath+")")

	fs.DurationVar(&iceGatherTimeout, "ice-gather-timeout", iceGatherTimeout, "Max time to wait for ICE gathering before posting the offer (env "+EnvICEGatheringTimeout+")")
	fs.DurationVar(&connectTimeout, "connect-timeout", connectTimeout, "Max time for the data channel to open after negotiation (env "+EnvConnectTimeout+")")
	fs.DurationVar(&negotiationTimeout, "negotiation-timeout", negotiationTimeout, "Max time for credential fetch and SDP exchange (env "+EnvNegotiationTimeout+")")
	fs.DurationVar(&followUpDelay, "follow-up-delay", followUpDelay, "Delay before the follow-up response after tool calls; 0 disables (env "+EnvFollowUpDelay+")")

	fs.StringVar(&documentServiceURL, "document-service-url", documentServiceURL, "Document service function-call endpoint (env "+EnvDocumentServiceURL+")")
	fs.StringVar(&dataPath, "data-path", dataPath, "Directory prefix for document ids (env "+EnvDataPath+")")
	fs.StringVar(&toolsFile, "tools-file", toolsFile, "YAML or JSON tool definitions; built-in definitions when unset (env "+EnvToolsFile+")")

	fs.StringVar(&authModeStr, "control-auth-mode", authModeDefault, "Control API auth mode: none or api_key (env "+EnvControlAuthMode+")")
	fs.IntVar(&controlWSMessagesPerSecond, "control-ws-messages-per-second", controlWSMessagesPerSecond, "Max inbound control WebSocket messages per second (env "+EnvControlWSMessagesPerSecond+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+EnvICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+EnvStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+EnvTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+EnvTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+EnvTurnCredential+")")

	fs.UintVar(&webrtcUDPPortMin, "webrtc-udp-port-min", webrtcUDPPortMin, "Min UDP port for ICE (env "+EnvWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, "webrtc-udp-port-max", webrtcUDPPortMax, "Max UDP port for ICE (env "+EnvWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, "webrtc-udp-listen-ip", webrtcUDPListenIPStr, "Local IP for ICE UDP sockets (env "+EnvWebRTCUDPListenIP+")")
	fs.IntVar(&sctpMaxReceiveBufferBytes, "webrtc-sctp-max-receive-buffer-bytes", sctpMaxReceiveBufferBytes, "SCTP receive buffer cap in bytes; 0 keeps the default (env "+EnvWebRTCSCTPMaxReceiveBufferBytes+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if iceGatherTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ice-gather-timeout must be > 0", EnvICEGatheringTimeout)
	}
	if connectTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--connect-timeout must be > 0", EnvConnectTimeout)
	}
	if negotiationTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--negotiation-timeout must be > 0", EnvNegotiationTimeout)
	}
	if followUpDelay < 0 {
		return Config{}, fmt.Errorf("%s/--follow-up-delay must be >= 0", EnvFollowUpDelay)
	}
	if controlWSMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--control-ws-messages-per-second must be > 0", EnvControlWSMessagesPerSecond)
	}
	if sctpMaxReceiveBufferBytes < 0 {
		return Config{}, fmt.Errorf("%s/--webrtc-sctp-max-receive-buffer-bytes must be >= 0", EnvWebRTCSCTPMaxReceiveBufferBytes)
	}
	if sctpMaxReceiveBufferBytes > 0 && sctpMaxReceiveBufferBytes < minSCTPReceiveBufferBytes {
		return Config{}, fmt.Errorf("%s/--webrtc-sctp-max-receive-buffer-bytes must be >= %d", EnvWebRTCSCTPMaxReceiveBufferBytes, minSCTPReceiveBufferBytes)
	}
	if authMode == AuthModeAPIKey && strings.TrimSpace(controlAPIKey) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", EnvControlAPIKey, EnvControlAuthMode, AuthModeAPIKey)
	}
	if useMic && strings.TrimSpace(micDevice) == "" {
		return Config{}, fmt.Errorf("%s/--mic-device must be set when %s is true", EnvMicDevice, EnvUseMic)
	}
	if strings.TrimSpace(model) == "" {
		return Config{}, fmt.Errorf("%s/--model must not be empty", EnvRealtimeModel)
	}

	if tokenURL == "" {
		tokenURL = selfURL(listenAddr, "/token")
	}
	for _, u := range []struct{ name, value string }{
		{EnvTokenURL, tokenURL},
		{EnvRealtimeURL, realtimeURL},
		{EnvRealtimeSessionsURL, sessionsURL},
		{EnvDocumentServiceURL, documentServiceURL},
	} {
		if u.value == "" && u.name == EnvDocumentServiceURL {
			continue
		}
		if err := validateHTTPURL(u.value); err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", u.name, u.value, err)
		}
	}

	var webrtcUDPPortRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("%s and %s must be set together (or both unset)", EnvWebRTCUDPPortMin, EnvWebRTCUDPPortMax)
		}
		min, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("%s/--webrtc-udp-port-min: %w", EnvWebRTCUDPPortMin, err)
		}
		max, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("%s/--webrtc-udp-port-max: %w", EnvWebRTCUDPPortMax, err)
		}
		if min > max {
			return Config{}, fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", min, max)
		}
		size := int(max) - int(min) + 1
		if size < recommendedWebRTCUDPPortRangeSize {
			return Config{}, fmt.Errorf("WebRTC UDP port range is too small: %d ports (min %d recommended)", size, recommendedWebRTCUDPPortRangeSize)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: min, Max: max}
	}

	webrtcUDPListenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if webrtcUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/--webrtc-udp-listen-ip %q", EnvWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--allowed-origins: %w", EnvAllowedOrigins, err)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		TokenURL:            tokenURL,
		RealtimeURL:         realtimeURL,
		Model:               strings.TrimSpace(model),
		Voice:               voice,
		RealtimeSessionsURL: sessionsURL,
		OpenAIAPIKey:        openAIAPIKey,

		UseMic:          useMic,
		MicDevice:       micDevice,
		RemoteAudioPath: remoteAudioPath,

		ICEGatheringTimeout: iceGatherTimeout,
		ConnectTimeout:      connectTimeout,
		NegotiationTimeout:  negotiationTimeout,
		FollowUpDelay:       followUpDelay,

		DocumentServiceURL: documentServiceURL,
		DataPath:           dataPath,
		ToolsFile:          toolsFile,

		ControlAuthMode:            authMode,
		ControlAPIKey:              controlAPIKey,
		ControlWSMessagesPerSecond: controlWSMessagesPerSecond,

		WebRTCUDPPortRange:              webrtcUDPPortRange,
		WebRTCUDPListenIP:               webrtcUDPListenIP,
		WebRTCSCTPMaxReceiveBufferBytes: sctpMaxReceiveBufferBytes,
	}

	iceServers, err := parseICEServers(iceSources{
		JSON:           iceServersJSON,
		STUNURLs:       stunURLs,
		TURNURLs:       turnURLs,
		TURNUsername:   turnUsername,
		TURNCredential: turnCredential,
	})
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

// selfURL builds a loopback URL for a route served by this process.
func selfURL(listenAddr, path string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr + path
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("expected http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	if u.User != nil {
		return fmt.Errorf("must not include credentials")
	}
	return nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", EnvControlAuthMode, raw, AuthModeNone, AuthModeAPIKey)
	}
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

// parseAllowedOrigins accepts "*" or exact http(s) origins.
func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, part := range splitCommaSeparated(raw) {
		if part == "*" {
			out = append(out, part)
			continue
		}
		u, err := url.Parse(part)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid origin %q", part)
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return nil, fmt.Errorf("invalid origin %q (expected http or https)", part)
		}
		if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
			return nil, fmt.Errorf("invalid origin %q (must be scheme://host[:port])", part)
		}
		out = append(out, scheme+"://"+strings.ToLower(u.Host))
	}
	return out, nil
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}
