package delivery

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ReconnectConfig holds the fixed policy of one delivery session.
type ReconnectConfig struct {
	// Enabled keeps a disconnected link alive for ReconnectTimeout, waiting for
	// the transport to come back before the channel is told.
	Enabled bool `mapstructure:"enabled"`

	// SendWindow is the maximum number of transmitted but unacknowledged messages.
	SendWindow int `mapstructure:"sendWindow"`

	// MaxDelayedAcks is the number of deliveries covered by one ack.
	MaxDelayedAcks int `mapstructure:"maxDelayedAcks"`

	// SendQueueCap bounds the pending queue. 0 means unbounded.
	SendQueueCap int `mapstructure:"sendQueueCap"`

	HandshakeTimeout time.Duration `mapstructure:"handshakeTimeout"`

	// AckTimeout forces an ack for a partial batch. 0 disables it.
	AckTimeout time.Duration `mapstructure:"ackTimeout"`

	ReconnectTimeout time.Duration `mapstructure:"reconnectTimeout"`
}

// DefaultReconnectConfig returns the policy used when nothing is configured.
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		Enabled:          true,
		SendWindow:       32,
		MaxDelayedAcks:   16,
		HandshakeTimeout: 5 * time.Second,
		AckTimeout:       2 * time.Second,
		ReconnectTimeout: 5 * time.Second,
	}
}

// GetName returns the config section name.
func (c *ReconnectConfig) GetName() string {
	return "reconnect"
}

// Validate checks the policy for invalid combinations.
func (c *ReconnectConfig) Validate() error {
	if c.SendWindow <= 0 {
		return fmt.Errorf("%w: sendWindow must be positive, got %d", ErrInvalidConfig, c.SendWindow)
	}
	if c.MaxDelayedAcks < 1 {
		return fmt.Errorf("%w: maxDelayedAcks must be at least 1, got %d", ErrInvalidConfig, c.MaxDelayedAcks)
	}
	if c.MaxDelayedAcks > c.SendWindow {
		return fmt.Errorf("%w: maxDelayedAcks %d exceeds sendWindow %d", ErrInvalidConfig, c.MaxDelayedAcks, c.SendWindow)
	}
	if c.SendQueueCap < 0 {
		return fmt.Errorf("%w: sendQueueCap must not be negative, got %d", ErrInvalidConfig, c.SendQueueCap)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: handshakeTimeout must be positive, got %s", ErrInvalidConfig, c.HandshakeTimeout)
	}
	if c.AckTimeout < 0 {
		return fmt.Errorf("%w: ackTimeout must not be negative, got %s", ErrInvalidConfig, c.AckTimeout)
	}
	if c.Enabled && c.ReconnectTimeout <= 0 {
		return fmt.Errorf("%w: reconnectTimeout must be positive when reconnect is enabled", ErrInvalidConfig)
	}
	return nil
}

// DecodeReconnectConfig decodes a config section on top of the defaults.
// Durations may be given as strings such as "1500ms".
func DecodeReconnectConfig(raw map[string]any) (*ReconnectConfig, error) {
	cfg := DefaultReconnectConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
		Result:      cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
