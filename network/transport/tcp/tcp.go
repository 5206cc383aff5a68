// Package tcp runs transport endpoints over TCP.
package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/network/transport"
)

// Kind names TCP in logs and metrics.
const Kind = "tcp"

// TCPCfg configures a TCP dialer or server.
type TCPCfg struct {
	transport.ConnCfg `mapstructure:",squash"`
	// SockBufSize sets SO_RCVBUF and SO_SNDBUF when positive.
	SockBufSize int  `mapstructure:"sockBufSize"`
	NoDelay     bool `mapstructure:"noDelay"`
}

// DefaultTCPCfg returns a client config for addr.
func DefaultTCPCfg(addr string) *TCPCfg {
	return &TCPCfg{
		ConnCfg: *transport.DefaultConnCfg(addr),
		NoDelay: true,
	}
}

// GetName returns the configuration key.
func (c *TCPCfg) GetName() string {
	return "tcp_transport"
}

// Validate checks the config.
func (c *TCPCfg) Validate() error {
	if err := c.ConnCfg.Validate(); err != nil {
		return err
	}
	if c.SockBufSize < 0 {
		return fmt.Errorf("%w: sockBufSize is negative", transport.ErrInvalidConnCfg)
	}
	return nil
}

// NewEndpoint builds a dialer or a server depending on cfg.Mode.
func NewEndpoint(cfg *TCPCfg) (transport.Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == transport.ModeServer {
		return NewServer(cfg), nil
	}
	return NewDialer(cfg), nil
}

// NewDialer creates a redialing TCP client.
func NewDialer(cfg *TCPCfg) *transport.Dialer {
	return transport.NewDialer(Kind, &cfg.ConnCfg, func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if err := tune(conn, cfg); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	})
}

// NewServer creates a TCP server.
func NewServer(cfg *TCPCfg) *transport.Server {
	return transport.NewServer(Kind, &cfg.ConnCfg, func(addr string) (net.Listener, error) {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return &tunedListener{Listener: ln, cfg: cfg}, nil
	})
}

type tunedListener struct {
	net.Listener
	cfg *TCPCfg
}

func (l *tunedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if err := tune(conn, l.cfg); err != nil {
			log.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("tune accepted tcp conn")
			_ = conn.Close()
			continue
		}
		return conn, nil
	}
}

func tune(conn net.Conn, cfg *TCPCfg) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(cfg.NoDelay); err != nil {
		return fmt.Errorf("set nodelay: %w", err)
	}
	if cfg.SockBufSize > 0 {
		if err := tc.SetReadBuffer(cfg.SockBufSize); err != nil {
			return fmt.Errorf("set read buffer: %w", err)
		}
		if err := tc.SetWriteBuffer(cfg.SockBufSize); err != nil {
			return fmt.Errorf("set write buffer: %w", err)
		}
	}
	return nil
}
