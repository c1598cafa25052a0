package relay

import (
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/ratelimit"
)

type Config struct {
	// SendQueueBytes bounds the frames buffered for one connection's writer.
	SendQueueBytes int
	OverflowPolicy config.OverflowPolicy

	// MaxMessagesPerSecond limits inbound frames per connection. Zero, the
	// default, disables the limit. MessageBurst defaults to
	// MaxMessagesPerSecond.
	MaxMessagesPerSecond int
	MessageBurst         int

	// MaxConnections bounds concurrently served connections. Zero means
	// unlimited.
	MaxConnections int

	// Clock drives the rate limiter; nil uses the wall clock.
	Clock ratelimit.Clock
}

func DefaultConfig() Config {
	return Config{
		SendQueueBytes:       config.DefaultSendQueueBytes,
		OverflowPolicy:       config.OverflowDropOldest,
		MaxMessagesPerSecond: config.DefaultMaxMessagesPerSecond,
	}
}

// WithDefaults returns c with any zero/invalid fields replaced with sensible
// defaults. Zero limits stay zero (unlimited).
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SendQueueBytes <= 0 {
		c.SendQueueBytes = d.SendQueueBytes
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = d.OverflowPolicy
	}
	if c.MaxMessagesPerSecond < 0 {
		c.MaxMessagesPerSecond = 0
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = c.MaxMessagesPerSecond
	}
	if c.MaxConnections < 0 {
		c.MaxConnections = 0
	}
	if c.Clock == nil {
		c.Clock = ratelimit.RealClock{}
	}
	return c
}

// ConfigFrom extracts the relay settings from the process configuration.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		SendQueueBytes:       cfg.SendQueueBytes,
		OverflowPolicy:       cfg.SendQueueOverflow,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		MessageBurst:         cfg.MessageBurst,
		MaxConnections:       cfg.MaxConnections,
	}.WithDefaults()
}
