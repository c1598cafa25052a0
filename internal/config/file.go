package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the settings accepted in a config file. Pointer fields
// distinguish "unset" from a zero value so the file only overrides what it
// names. Durations are Go duration strings ("60s").
type fileConfig struct {
	ListenAddr      *string  `toml:"listen_addr" yaml:"listen_addr"`
	PublicBaseURL   *string  `toml:"public_base_url" yaml:"public_base_url"`
	AllowedOrigins  []string `toml:"allowed_origins" yaml:"allowed_origins"`
	Mode            *string  `toml:"mode" yaml:"mode"`
	LogFormat       *string  `toml:"log_format" yaml:"log_format"`
	LogLevel        *string  `toml:"log_level" yaml:"log_level"`
	ShutdownTimeout *string  `toml:"shutdown_timeout" yaml:"shutdown_timeout"`

	MaxMessageBytes *int64  `toml:"max_message_bytes" yaml:"max_message_bytes"`
	WSIdleTimeout   *string `toml:"ws_idle_timeout" yaml:"ws_idle_timeout"`
	WSPingInterval  *string `toml:"ws_ping_interval" yaml:"ws_ping_interval"`
	WSWriteTimeout  *string `toml:"ws_write_timeout" yaml:"ws_write_timeout"`

	SendQueueBytes       *int    `toml:"send_queue_bytes" yaml:"send_queue_bytes"`
	SendQueueOverflow    *string `toml:"send_queue_overflow" yaml:"send_queue_overflow"`
	MaxMessagesPerSecond *int    `toml:"max_messages_per_second" yaml:"max_messages_per_second"`
	MessageBurst         *int    `toml:"message_burst" yaml:"message_burst"`
	MaxConnections       *int    `toml:"max_connections" yaml:"max_connections"`

	ICEServersJSON *string  `toml:"ice_servers_json" yaml:"ice_servers_json"`
	StunURLs       []string `toml:"stun_urls" yaml:"stun_urls"`
	TurnURLs       []string `toml:"turn_urls" yaml:"turn_urls"`
	TurnUsername   *string  `toml:"turn_username" yaml:"turn_username"`
	TurnCredential *string  `toml:"turn_credential" yaml:"turn_credential"`

	TURNREST fileTURNREST `toml:"turn_rest" yaml:"turn_rest"`
}

type fileTURNREST struct {
	SharedSecret   *string `toml:"shared_secret" yaml:"shared_secret"`
	TTLSeconds     *int64  `toml:"ttl_seconds" yaml:"ttl_seconds"`
	UsernamePrefix *string `toml:"username_prefix" yaml:"username_prefix"`
	Realm          *string `toml:"realm" yaml:"realm"`
}

// loadFile decodes a .toml, .yaml or .yml config file. Unknown keys are an
// error in both formats.
func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.DecodeFile(path, &fc)
		if err != nil {
			return fileConfig{}, fmt.Errorf("config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return fileConfig{}, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fileConfig{}, fmt.Errorf("config file %s: %w", path, err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
			return fileConfig{}, fmt.Errorf("config file %s: %w", path, err)
		}
	default:
		return fileConfig{}, fmt.Errorf("config file %s: unsupported extension (expected .toml, .yaml or .yml)", path)
	}
	return fc, nil
}

func fileString(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func fileInt(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func fileInt64(v *int64, fallback int64) int64 {
	if v == nil {
		return fallback
	}
	return *v
}
