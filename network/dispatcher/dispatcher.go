// Package dispatcher sits between a transport and the delivery layer. Every
// frame runs through a filter chain (size check, receive rate limit, decode,
// kind filter and any custom filters) before the decoded protocol message
// reaches the MessageHandler.
package dispatcher

import (
	"errors"
	"fmt"
	"sync"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/network/transport"
)

// Limiter names.
const (
	LimiterNone   = "none"
	LimiterToken  = "token"
	LimiterFunnel = "funnel"
)

// ErrInvalidDispatcherCfg is wrapped by DispatcherCfg.Validate.
var ErrInvalidDispatcherCfg = errors.New("dispatcher: invalid config")

// MessageHandler receives connection events and decoded messages.
type MessageHandler interface {
	OnTransportConnected(t transport.Transport)
	OnTransportDisconnected(t transport.Transport)
	OnTransportClosed(t transport.Transport)
	OnRecvMessage(t transport.Transport, msg delivery.ProtocolMessage)
}

// DispatcherCfg holds the configurable parameters of a Dispatcher.
type DispatcherCfg struct {
	// RecvRateLimit is the number of frames handled per second per dispatcher.
	RecvRateLimit int `mapstructure:"recvRateLimit"`
	// TokenBurst is the burst of the token limiter.
	TokenBurst int `mapstructure:"tokenBurst"`
	// Limiter is token, funnel or none.
	Limiter string `mapstructure:"limiter"`
	// MaxFrameSize drops larger frames before decoding.
	MaxFrameSize int `mapstructure:"maxFrameSize"`
	// KindFilter lists message kinds that are dropped after decoding.
	KindFilter []string `mapstructure:"kindFilter"`
}

// DefaultDispatcherCfg returns the defaults.
func DefaultDispatcherCfg() *DispatcherCfg {
	return &DispatcherCfg{
		RecvRateLimit: 10000,
		TokenBurst:    1000,
		Limiter:       LimiterToken,
		MaxFrameSize:  1 << 20,
	}
}

// GetName returns the configuration key for the dispatcher settings.
func (c *DispatcherCfg) GetName() string {
	return "dispatcher"
}

// Validate checks if the dispatcher configuration parameters are within acceptable ranges.
func (c *DispatcherCfg) Validate() error {
	switch c.Limiter {
	case LimiterNone:
	case LimiterToken, LimiterFunnel:
		if c.RecvRateLimit <= 0 {
			return fmt.Errorf("%w: recvRateLimit must be positive", ErrInvalidDispatcherCfg)
		}
		if c.RecvRateLimit > 1000000 {
			return fmt.Errorf("%w: recvRateLimit cannot exceed 1,000,000 frames per second", ErrInvalidDispatcherCfg)
		}
		if c.Limiter == LimiterToken {
			if c.TokenBurst <= 0 {
				return fmt.Errorf("%w: tokenBurst must be positive", ErrInvalidDispatcherCfg)
			}
			if c.TokenBurst > c.RecvRateLimit*10 {
				return fmt.Errorf("%w: tokenBurst cannot exceed 10 times recvRateLimit", ErrInvalidDispatcherCfg)
			}
		}
	default:
		return fmt.Errorf("%w: unknown limiter %q", ErrInvalidDispatcherCfg, c.Limiter)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("%w: maxFrameSize must be positive", ErrInvalidDispatcherCfg)
	}
	for _, k := range c.KindFilter {
		if !knownKind(k) {
			return fmt.Errorf("%w: unknown message kind %q in kindFilter", ErrInvalidDispatcherCfg, k)
		}
	}
	return nil
}

func knownKind(name string) bool {
	for k := delivery.KindHandshake; k <= delivery.KindGoodbye; k++ {
		if k.String() == name {
			return true
		}
	}
	return false
}

// Dispatcher is a transport.Listener that decodes frames and forwards them to
// a MessageHandler. Configuration can be reloaded while frames flow.
type Dispatcher struct {
	handler MessageHandler
	filters DispatcherFilterChain

	lock         sync.RWMutex
	config       *DispatcherCfg
	recvLimiter  RecvLimiter
	kindFilter   map[string]struct{}
	maxFrameSize int
}

var _ transport.Listener = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher for h. Extra filters run after the
// built-in ones, in the given order.
func NewDispatcher(cfg *DispatcherCfg, h MessageHandler, filters ...DispatcherFilter) (*Dispatcher, error) {
	if cfg == nil {
		cfg = DefaultDispatcherCfg()
	}
	if h == nil {
		return nil, errors.New("dispatcher: nil message handler")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{handler: h}
	d.applyCfg(cfg)

	// The filter chain is processed in the order filters are added.
	d.filters = append(d.filters, d.sizeFilter, d.recvLimiterFilter, d.decodeFilter, d.kindFilterFunc)
	d.filters = append(d.filters, filters...)
	return d, nil
}

// Reload swaps the configuration.
func (d *Dispatcher) Reload(cfg *DispatcherCfg) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.applyCfg(cfg)
	log.Info().Str("limiter", cfg.Limiter).Int("recvRateLimit", cfg.RecvRateLimit).
		Strs("kindFilter", cfg.KindFilter).Msg("dispatcher config reloaded")
	return nil
}

// applyCfg must be called with the write lock held or before the dispatcher
// is shared.
func (d *Dispatcher) applyCfg(cfg *DispatcherCfg) {
	old := d.config
	d.config = cfg
	d.maxFrameSize = cfg.MaxFrameSize
	d.reloadKindFilter(cfg.KindFilter)

	if old != nil && old.Limiter == cfg.Limiter && d.recvLimiter != nil {
		switch l := d.recvLimiter.(type) {
		case *TokenRecvLimiter:
			l.Reload(cfg.RecvRateLimit, cfg.TokenBurst)
			return
		case *FunnelRecvLimiter:
			l.Reload(cfg.RecvRateLimit)
			return
		}
	}
	d.recvLimiter = newRecvLimiter(cfg)
}

// OnTransportConnected implements transport.Listener.
func (d *Dispatcher) OnTransportConnected(t transport.Transport) {
	d.handler.OnTransportConnected(t)
}

// OnTransportDisconnected implements transport.Listener.
func (d *Dispatcher) OnTransportDisconnected(t transport.Transport) {
	d.handler.OnTransportDisconnected(t)
}

// OnTransportClosed implements transport.Listener.
func (d *Dispatcher) OnTransportClosed(t transport.Transport) {
	d.handler.OnTransportClosed(t)
}

// OnRecvFrame implements transport.Listener.
func (d *Dispatcher) OnRecvFrame(t transport.Transport, frame []byte) {
	fc := &FrameContext{Transport: t, Frame: frame}
	if err := d.filters.Handle(fc, d.handle); err != nil {
		log.Debug().Err(err).Int("size", len(frame)).Msg("dispatcher dropped frame")
	}
}

// handle is the final step of the chain.
func (d *Dispatcher) handle(fc *FrameContext) error {
	d.handler.OnRecvMessage(fc.Transport, fc.Msg)
	return nil
}
