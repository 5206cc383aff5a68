// Package kcp runs transport endpoints over KCP, a reliable UDP protocol
// that trades bandwidth for latency. Sessions run in stream mode so frames
// are split and joined exactly as on TCP.
package kcp

import (
	"context"
	"fmt"
	"net"

	"github.com/linchenxuan/oncelink/network/transport"
	kcpgo "github.com/xtaci/kcp-go/v5"
)

// Kind names KCP in logs and metrics.
const Kind = "kcp"

// KCPCfg configures a KCP dialer or server.
type KCPCfg struct {
	transport.ConnCfg `mapstructure:",squash"`
	// DataShards and ParityShards configure forward error correction. Zero
	// disables it.
	DataShards   int `mapstructure:"dataShards"`
	ParityShards int `mapstructure:"parityShards"`
	// NoDelay, Interval, Resend and NoCongestion map to ikcp_nodelay.
	NoDelay      bool `mapstructure:"noDelay"`
	Interval     int  `mapstructure:"interval"`
	Resend       int  `mapstructure:"resend"`
	NoCongestion bool `mapstructure:"noCongestion"`
	SndWnd       int  `mapstructure:"sndWnd"`
	RcvWnd       int  `mapstructure:"rcvWnd"`
	MTU          int  `mapstructure:"mtu"`
}

// DefaultKCPCfg returns a client config for addr in the fast profile.
func DefaultKCPCfg(addr string) *KCPCfg {
	return &KCPCfg{
		ConnCfg:      *transport.DefaultConnCfg(addr),
		NoDelay:      true,
		Interval:     10,
		Resend:       2,
		NoCongestion: true,
		SndWnd:       256,
		RcvWnd:       256,
		MTU:          1350,
	}
}

// GetName returns the configuration key.
func (c *KCPCfg) GetName() string {
	return "kcp_transport"
}

// Validate checks the config.
func (c *KCPCfg) Validate() error {
	if err := c.ConnCfg.Validate(); err != nil {
		return err
	}
	if c.DataShards < 0 || c.ParityShards < 0 {
		return fmt.Errorf("%w: negative fec shards", transport.ErrInvalidConnCfg)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", transport.ErrInvalidConnCfg)
	}
	if c.SndWnd <= 0 || c.RcvWnd <= 0 {
		return fmt.Errorf("%w: windows must be positive", transport.ErrInvalidConnCfg)
	}
	if c.MTU < 50 {
		return fmt.Errorf("%w: mtu %d too small", transport.ErrInvalidConnCfg, c.MTU)
	}
	return nil
}

// NewEndpoint builds a dialer or a server depending on cfg.Mode.
func NewEndpoint(cfg *KCPCfg) (transport.Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == transport.ModeServer {
		return NewServer(cfg), nil
	}
	return NewDialer(cfg), nil
}

// NewDialer creates a redialing KCP client.
func NewDialer(cfg *KCPCfg) *transport.Dialer {
	return transport.NewDialer(Kind, &cfg.ConnCfg, func(ctx context.Context, addr string) (net.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sess, err := kcpgo.DialWithOptions(addr, nil, cfg.DataShards, cfg.ParityShards)
		if err != nil {
			return nil, err
		}
		tune(sess, cfg)
		return sess, nil
	})
}

// NewServer creates a KCP server.
func NewServer(cfg *KCPCfg) *transport.Server {
	return transport.NewServer(Kind, &cfg.ConnCfg, func(addr string) (net.Listener, error) {
		ln, err := kcpgo.ListenWithOptions(addr, nil, cfg.DataShards, cfg.ParityShards)
		if err != nil {
			return nil, err
		}
		return &tunedListener{Listener: ln, cfg: cfg}, nil
	})
}

type tunedListener struct {
	*kcpgo.Listener
	cfg *KCPCfg
}

func (l *tunedListener) Accept() (net.Conn, error) {
	sess, err := l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tune(sess, l.cfg)
	return sess, nil
}

func tune(sess *kcpgo.UDPSession, cfg *KCPCfg) {
	nodelay, nc := 0, 0
	if cfg.NoDelay {
		nodelay = 1
	}
	if cfg.NoCongestion {
		nc = 1
	}
	sess.SetStreamMode(true)
	sess.SetNoDelay(nodelay, cfg.Interval, cfg.Resend, nc)
	sess.SetWindowSize(cfg.SndWnd, cfg.RcvWnd)
	sess.SetMtu(cfg.MTU)
	sess.SetACKNoDelay(cfg.NoDelay)
}
