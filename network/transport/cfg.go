package transport

import (
	"fmt"
	"time"
)

// Endpoint modes.
const (
	ModeClient = "client"
	ModeServer = "server"
)

// ConnCfg configures connections of a dialer or a server.
type ConnCfg struct {
	Tag  string `mapstructure:"tag"`
	Addr string `mapstructure:"addr"`
	// Mode is client (dial Addr) or server (listen on Addr).
	Mode         string `mapstructure:"mode"`
	SendChanSize int    `mapstructure:"sendChanSize"`
	// IdleTimeout drops a connection that read nothing for this long. Zero
	// disables it. Heartbeats are written every third of it.
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	RedialInterval time.Duration `mapstructure:"redialInterval"`
	MaxFrameSize   int           `mapstructure:"maxFrameSize"`
}

// DefaultConnCfg returns a client config for addr.
func DefaultConnCfg(addr string) *ConnCfg {
	return &ConnCfg{
		Addr:           addr,
		Mode:           ModeClient,
		SendChanSize:   1024,
		IdleTimeout:    30 * time.Second,
		RedialInterval: time.Second,
		MaxFrameSize:   1 << 20,
	}
}

// Validate checks the config.
func (c *ConnCfg) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr is empty", ErrInvalidConnCfg)
	}
	if c.Mode != ModeClient && c.Mode != ModeServer {
		return fmt.Errorf("%w: mode %q, want %s or %s", ErrInvalidConnCfg, c.Mode, ModeClient, ModeServer)
	}
	if c.SendChanSize <= 0 {
		return fmt.Errorf("%w: sendChanSize must be positive", ErrInvalidConnCfg)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idleTimeout is negative", ErrInvalidConnCfg)
	}
	if c.Mode == ModeClient && c.RedialInterval <= 0 {
		return fmt.Errorf("%w: redialInterval must be positive", ErrInvalidConnCfg)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("%w: maxFrameSize must be positive", ErrInvalidConnCfg)
	}
	return nil
}
