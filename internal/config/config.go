package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/origin"
)

const (
	EnvConfigFile      = "AERO_SIGNALING_RELAY_CONFIG"
	EnvListenAddr      = "AERO_SIGNALING_RELAY_LISTEN_ADDR"
	EnvPublicBaseURL   = "AERO_SIGNALING_RELAY_PUBLIC_BASE_URL"
	EnvAllowedOrigins  = "ALLOWED_ORIGINS"
	EnvLogFormat       = "AERO_SIGNALING_RELAY_LOG_FORMAT"
	EnvLogLevel        = "AERO_SIGNALING_RELAY_LOG_LEVEL"
	EnvShutdownTimeout = "AERO_SIGNALING_RELAY_SHUTDOWN_TIMEOUT"
	EnvMode            = "AERO_SIGNALING_RELAY_MODE"

	// WebSocket transport.
	EnvMaxMessageBytes = "MAX_MESSAGE_BYTES"
	EnvWSIdleTimeout   = "WS_IDLE_TIMEOUT"
	EnvWSPingInterval  = "WS_PING_INTERVAL"
	EnvWSWriteTimeout  = "WS_WRITE_TIMEOUT"

	// Relay engine limits.
	EnvSendQueueBytes       = "SEND_QUEUE_BYTES"
	EnvSendQueueOverflow    = "SEND_QUEUE_OVERFLOW"
	EnvMaxMessagesPerSecond = "MAX_MESSAGES_PER_SECOND"
	EnvMessageBurst         = "MESSAGE_BURST"
	EnvMaxConnections       = "MAX_CONNECTIONS"

	// coturn TURN REST (ephemeral) credentials.
	EnvTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	EnvTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	EnvTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	EnvTURNRESTRealm          = "TURN_REST_REALM"

	DefaultListenAddr      = "0.0.0.0:8765"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultMaxMessageBytes = int64(1 << 20)
	DefaultWSIdleTimeout   = 60 * time.Second
	DefaultWSPingInterval  = 20 * time.Second
	DefaultWSWriteTimeout  = 5 * time.Second

	DefaultSendQueueBytes                      = 4 << 20
	DefaultSendQueueOverflow    OverflowPolicy = OverflowDropOldest
	DefaultMaxMessagesPerSecond                = 0

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "aero"
)

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

// OverflowPolicy selects what happens when a connection's outbound queue
// cannot take another frame.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued frames until the new one fits.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	// OverflowDisconnect closes the slow connection.
	OverflowDisconnect OverflowPolicy = "disconnect"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	// ConfigFile is the file the settings were layered from, if any.
	ConfigFile string

	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	MaxMessageBytes int64
	WSIdleTimeout   time.Duration
	WSPingInterval  time.Duration
	WSWriteTimeout  time.Duration

	// A value <= 0 for the rate and connection limits means unlimited.
	SendQueueBytes       int
	SendQueueOverflow    OverflowPolicy
	MaxMessagesPerSecond int
	MessageBurst         int
	MaxConnections       int

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. It is kept
// separate from Load's error so the relay can still start and surface the
// problem on GET /webrtc/ice.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	configFile := configPathFromArgs(args)
	if configFile == "" {
		configFile = envOrDefault(lookup, EnvConfigFile, "")
	}
	var fc fileConfig
	if configFile != "" {
		var err error
		fc, err = loadFile(configFile)
		if err != nil {
			return Config{}, err
		}
	}

	modeDefault := envOrDefault(lookup, EnvMode, fileString(fc.Mode, string(DefaultMode)))

	envLogFormat, envLogFormatOK := lookup(EnvLogFormat)
	logFormatPinned := (envLogFormatOK && envLogFormat != "") || fc.LogFormat != nil
	logFormatDefault := envOrDefault(lookup, EnvLogFormat, fileString(fc.LogFormat, defaultLogFormatForMode(modeDefault)))

	envLogLevel, envLogLevelOK := lookup(EnvLogLevel)
	logLevelPinned := (envLogLevelOK && envLogLevel != "") || fc.LogLevel != nil
	logLevelDefault := envOrDefault(lookup, EnvLogLevel, fileString(fc.LogLevel, defaultLogLevelForMode(modeDefault)))

	listenAddr := envOrDefault(lookup, EnvListenAddr, fileString(fc.ListenAddr, DefaultListenAddr))
	publicBaseURL := envOrDefault(lookup, EnvPublicBaseURL, fileString(fc.PublicBaseURL, ""))
	allowedOriginsStr := envOrDefault(lookup, EnvAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, fileString(fc.ICEServersJSON, ""))
	stunURLs := envOrDefault(lookup, envStunURLs, strings.Join(fc.StunURLs, ","))
	turnURLs := envOrDefault(lookup, envTurnURLs, strings.Join(fc.TurnURLs, ","))
	turnUsername := envOrDefault(lookup, envTurnUsername, fileString(fc.TurnUsername, ""))
	turnCredential := envOrDefault(lookup, envTurnCredential, fileString(fc.TurnCredential, ""))

	turnRESTSharedSecret := envOrDefault(lookup, EnvTURNRESTSharedSecret, fileString(fc.TURNREST.SharedSecret, ""))
	turnRESTTTLSeconds, err := envInt64OrDefault(lookup, EnvTURNRESTTTLSeconds, fileInt64(fc.TURNREST.TTLSeconds, DefaultTURNRESTTTLSeconds))
	if err != nil {
		return Config{}, err
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, EnvTURNRESTUsernamePrefix, fileString(fc.TURNREST.UsernamePrefix, DefaultTURNRESTUsernamePrefix))
	turnRESTRealm := envOrDefault(lookup, EnvTURNRESTRealm, fileString(fc.TURNREST.Realm, ""))

	shutdownTimeout, err := layeredDuration(lookup, EnvShutdownTimeout, fc.ShutdownTimeout, "shutdown_timeout", DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := layeredDuration(lookup, EnvWSIdleTimeout, fc.WSIdleTimeout, "ws_idle_timeout", DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := layeredDuration(lookup, EnvWSPingInterval, fc.WSPingInterval, "ws_ping_interval", DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	wsWriteTimeout, err := layeredDuration(lookup, EnvWSWriteTimeout, fc.WSWriteTimeout, "ws_write_timeout", DefaultWSWriteTimeout)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes, err := envInt64OrDefault(lookup, EnvMaxMessageBytes, fileInt64(fc.MaxMessageBytes, DefaultMaxMessageBytes))
	if err != nil {
		return Config{}, err
	}
	sendQueueBytes, err := envIntOrDefault(lookup, EnvSendQueueBytes, fileInt(fc.SendQueueBytes, DefaultSendQueueBytes))
	if err != nil {
		return Config{}, err
	}
	sendQueueOverflowStr := envOrDefault(lookup, EnvSendQueueOverflow, fileString(fc.SendQueueOverflow, string(DefaultSendQueueOverflow)))
	maxMessagesPerSecond, err := envIntOrDefault(lookup, EnvMaxMessagesPerSecond, fileInt(fc.MaxMessagesPerSecond, DefaultMaxMessagesPerSecond))
	if err != nil {
		return Config{}, err
	}
	messageBurst, err := envIntOrDefault(lookup, EnvMessageBurst, fileInt(fc.MessageBurst, 0))
	if err != nil {
		return Config{}, err
	}
	maxConnections, err := envIntOrDefault(lookup, EnvMaxConnections, fileInt(fc.MaxConnections, 0))
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-signaling-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
		configFlag   string
	)

	fs.StringVar(&configFlag, "config", configFile, "Path to a .toml or .yaml config file (env "+EnvConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "WebSocket/HTTP listen address (host:port)")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL (optional; used for logging)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+EnvAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound WebSocket message size in bytes (env "+EnvMaxMessageBytes+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close WebSocket connections idle for this long (env "+EnvWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Send ping frames at this interval (must be < --ws-idle-timeout; env "+EnvWSPingInterval+")")
	fs.DurationVar(&wsWriteTimeout, "ws-write-timeout", wsWriteTimeout, "Deadline for a single WebSocket write (env "+EnvWSWriteTimeout+")")

	fs.IntVar(&sendQueueBytes, "send-queue-bytes", sendQueueBytes, "Max queued outbound bytes per connection (env "+EnvSendQueueBytes+")")
	fs.StringVar(&sendQueueOverflowStr, "send-queue-overflow", sendQueueOverflowStr, "Outbound queue overflow policy: drop_oldest or disconnect (env "+EnvSendQueueOverflow+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Max inbound messages per second per connection (0 = unlimited; env "+EnvMaxMessagesPerSecond+")")
	fs.IntVar(&messageBurst, "message-burst", messageBurst, "Inbound message burst per connection (0 = same as rate; env "+EnvMessageBurst+")")
	fs.IntVar(&maxConnections, "max-connections", maxConnections, "Max concurrent WebSocket connections (0 = unlimited; env "+EnvMaxConnections+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+EnvTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+EnvTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+EnvTURNRESTUsernamePrefix+")")
	fs.StringVar(&turnRESTRealm, "turn-rest-realm", turnRESTRealm, "TURN realm (coturn config; "+EnvTURNRESTRealm+")")

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

	// A mode given on the command line re-derives the log defaults unless they
	// were pinned explicitly.
	if !logFormatPinned && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !logLevelPinned && !setFlags["log-level"] {
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

	sendQueueOverflow, err := ParseOverflowPolicy(sendQueueOverflowStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--send-queue-overflow %q: %w", EnvSendQueueOverflow, sendQueueOverflowStr, err)
	}

	allowedOrigins, err := origin.ParseAllowList(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", EnvAllowedOrigins, err)
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-bytes must be > 0", EnvMaxMessageBytes)
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-idle-timeout must be > 0", EnvWSIdleTimeout)
	}
	if wsPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be > 0", EnvWSPingInterval)
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval (%s) must be < %s/--ws-idle-timeout (%s)", EnvWSPingInterval, wsPingInterval, EnvWSIdleTimeout, wsIdleTimeout)
	}
	if wsWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-write-timeout must be > 0", EnvWSWriteTimeout)
	}
	if sendQueueBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--send-queue-bytes must be > 0", EnvSendQueueBytes)
	}
	if int64(sendQueueBytes) < maxMessageBytes {
		return Config{}, fmt.Errorf("%s/--send-queue-bytes (%d) must be >= %s/--max-message-bytes (%d)", EnvSendQueueBytes, sendQueueBytes, EnvMaxMessageBytes, maxMessageBytes)
	}
	if maxMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-messages-per-second must be >= 0", EnvMaxMessagesPerSecond)
	}
	if messageBurst < 0 {
		return Config{}, fmt.Errorf("%s/--message-burst must be >= 0", EnvMessageBurst)
	}
	if maxConnections < 0 {
		return Config{}, fmt.Errorf("%s/--max-connections must be >= 0", EnvMaxConnections)
	}

	cfg := Config{
		ConfigFile:      configFile,
		ListenAddr:      listenAddr,
		PublicBaseURL:   publicBaseURL,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		MaxMessageBytes: maxMessageBytes,
		WSIdleTimeout:   wsIdleTimeout,
		WSPingInterval:  wsPingInterval,
		WSWriteTimeout:  wsWriteTimeout,

		SendQueueBytes:       sendQueueBytes,
		SendQueueOverflow:    sendQueueOverflow,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		MessageBurst:         messageBurst,
		MaxConnections:       maxConnections,

		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
			Realm:          turnRESTRealm,
		},
	}

	if cfg.TURNREST.Enabled() && cfg.TURNREST.TTLSeconds <= 0 {
		return Config{}, fmt.Errorf("%s/--turn-rest-ttl-seconds must be > 0", EnvTURNRESTTTLSeconds)
	}

	iceServers, err := ICESources{
		JSON:           iceServersJSON,
		STUNURLs:       stunURLs,
		TURNURLs:       turnURLs,
		TURNUsername:   turnUsername,
		TURNCredential: turnCredential,
	}.Parse(cfg.TURNREST.Enabled())
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

// configPathFromArgs finds --config ahead of flag parsing so the file can
// supply the flag defaults.
func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return ""
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
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

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

// layeredDuration resolves a duration from the environment, then the config
// file, then fallback.
func layeredDuration(lookup func(string) (string, bool), envKey string, fileValue *string, fileKey string, fallback time.Duration) (time.Duration, error) {
	if raw, ok := lookup(envKey); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", envKey, raw, err)
		}
		return d, nil
	}
	if fileValue != nil {
		d, err := time.ParseDuration(strings.TrimSpace(*fileValue))
		if err != nil {
			return 0, fmt.Errorf("invalid config file %s %q: %w", fileKey, *fileValue, err)
		}
		return d, nil
	}
	return fallback, nil
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

// ParseOverflowPolicy accepts drop_oldest or disconnect (case-insensitive,
// '-' and '_' interchangeable).
func ParseOverflowPolicy(raw string) (OverflowPolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_") {
	case string(OverflowDropOldest):
		return OverflowDropOldest, nil
	case string(OverflowDisconnect):
		return OverflowDisconnect, nil
	default:
		return "", fmt.Errorf("expected %s or %s", OverflowDropOldest, OverflowDisconnect)
	}
}
