// Package unix runs transport endpoints over unix domain sockets, for a peer
// on the same host such as a sidecar.
package unix

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"

	"github.com/linchenxuan/oncelink/network/transport"
)

// Kind names unix sockets in logs and metrics.
const Kind = "unix"

// UnixCfg configures a unix socket dialer or server. Addr is the socket path.
type UnixCfg struct {
	transport.ConnCfg `mapstructure:",squash"`
	// RemoveStale deletes a leftover socket file before listening.
	RemoveStale bool `mapstructure:"removeStale"`
}

// DefaultUnixCfg returns a client config for the socket at path.
func DefaultUnixCfg(path string) *UnixCfg {
	return &UnixCfg{
		ConnCfg:     *transport.DefaultConnCfg(path),
		RemoveStale: true,
	}
}

// GetName returns the configuration key.
func (c *UnixCfg) GetName() string {
	return "unix_transport"
}

// Validate checks the config.
func (c *UnixCfg) Validate() error {
	return c.ConnCfg.Validate()
}

// NewEndpoint builds a dialer or a server depending on cfg.Mode.
func NewEndpoint(cfg *UnixCfg) (transport.Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == transport.ModeServer {
		return NewServer(cfg), nil
	}
	return NewDialer(cfg), nil
}

// NewDialer creates a redialing unix socket client.
func NewDialer(cfg *UnixCfg) *transport.Dialer {
	return transport.NewDialer(Kind, &cfg.ConnCfg, func(ctx context.Context, path string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", path)
	})
}

// NewServer creates a unix socket server. The socket file is removed when
// the listener closes.
func NewServer(cfg *UnixCfg) *transport.Server {
	return transport.NewServer(Kind, &cfg.ConnCfg, func(path string) (net.Listener, error) {
		if cfg.RemoveStale {
			if err := removeStale(path); err != nil {
				return nil, err
			}
		}
		return net.Listen("unix", path)
	})
}

// removeStale deletes path if it is a socket nobody listens on.
func removeStale(path string) error {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if conn, err := net.Dial("unix", path); err == nil {
		_ = conn.Close()
		return fmt.Errorf("%s is in use", path)
	}
	return os.Remove(path)
}
