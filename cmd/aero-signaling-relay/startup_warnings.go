package main

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/origin"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}
	if slices.Contains(cfg.AllowedOrigins, origin.Null) {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains 'null' (allows sandboxed and file:// pages)",
			"warning_code", "allowed_origins_null",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnections <= 0 {
		logger.Warn("startup security warning: MAX_CONNECTIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_connections_unlimited_in_prod",
			"max_connections", cfg.MaxConnections,
			"mode", cfg.Mode,
		)
	}
	if cfg.Mode == config.ModeProd && cfg.MaxMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_MESSAGES_PER_SECOND is unset/0 (unlimited) while --mode=prod",
			"warning_code", "message_rate_unlimited_in_prod",
			"max_messages_per_second", cfg.MaxMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	// Every relayed frame is buffered whole, so large caps multiply per-connection memory.
	if cfg.MaxMessageBytes > 4<<20 { // 4MiB
		logger.Warn("startup security warning: MAX_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.SendQueueBytes > 64<<20 { // 64MiB
		logger.Warn("startup security warning: SEND_QUEUE_BYTES is very large (slow clients can pin a lot of memory)",
			"warning_code", "send_queue_bytes_large",
			"send_queue_bytes", cfg.SendQueueBytes,
			"mode", cfg.Mode,
		)
	}

	if !cfg.TURNREST.Enabled() {
		for _, server := range cfg.ICEServers {
			if !config.ServerHasTURNURL(server) || strings.TrimSpace(server.Username) == "" {
				continue
			}
			logger.Warn("startup security warning: static TURN credentials are served to every client on /webrtc/ice (prefer TURN_REST_SHARED_SECRET)",
				"warning_code", "turn_static_credentials",
				"turn_urls", server.URLs,
				"mode", cfg.Mode,
			)
			break
		}
	}
}
