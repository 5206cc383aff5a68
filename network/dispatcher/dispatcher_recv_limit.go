package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/oncelink/metrics"
	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// RecvLimiter paces incoming frames. Take blocks the transport read loop,
// which pushes back on the peer.
type RecvLimiter interface {
	Take() error
}

func newRecvLimiter(cfg *DispatcherCfg) RecvLimiter {
	switch cfg.Limiter {
	case LimiterToken:
		return NewTokenRecvLimiter(cfg.RecvRateLimit, cfg.TokenBurst)
	case LimiterFunnel:
		return NewFunnelRecvLimiter(cfg.RecvRateLimit)
	default:
		return nil
	}
}

func (d *Dispatcher) recvLimiterFilter(fc *FrameContext, f FilterHandleFunc) error {
	d.lock.RLock()
	l := d.recvLimiter
	d.lock.RUnlock()
	if l != nil {
		if err := l.Take(); err != nil {
			return err
		}
	}
	return f(fc)
}

// TokenRecvLimiter is a token bucket: bursts up to the bucket size pass at
// once, then frames are paced at the steady rate.
type TokenRecvLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewTokenRecvLimiter creates a bucket of burst tokens refilled at limit per second.
func NewTokenRecvLimiter(limit int, burst int) *TokenRecvLimiter {
	self := &TokenRecvLimiter{}
	self.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
	return self
}

// Take waits for a token. Waiting frames are counted as limited.
func (l *TokenRecvLimiter) Take() error {
	lim := l.limiter.Load()
	if lim.Allow() {
		return nil
	}
	metrics.IncrCounterWithDimGroup(metrics.NameDispatcherLimitedTotal, metrics.GroupOncelink, 1,
		metrics.Dimension{metrics.DimReason: LimiterToken})
	return lim.Wait(context.Background())
}

// Reload swaps in a limiter with the new rate and burst.
func (l *TokenRecvLimiter) Reload(limit int, burst int) {
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
}

// FunnelRecvLimiter is a leaky bucket with a constant output rate.
type FunnelRecvLimiter struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

// NewFunnelRecvLimiter lets limit frames per second through.
func NewFunnelRecvLimiter(limit int) *FunnelRecvLimiter {
	limiter := ratelimit.New(limit)
	self := &FunnelRecvLimiter{}
	self.limiter.Store(&limiter)
	return self
}

// Take blocks until the next slot.
func (l *FunnelRecvLimiter) Take() error {
	start := time.Now()
	now := (*l.limiter.Load()).Take()
	if now.Sub(start) > time.Millisecond {
		metrics.IncrCounterWithDimGroup(metrics.NameDispatcherLimitedTotal, metrics.GroupOncelink, 1,
			metrics.Dimension{metrics.DimReason: LimiterFunnel})
	}
	return nil
}

// Reload swaps in a limiter with the new rate.
func (l *FunnelRecvLimiter) Reload(limit int) {
	newLimiter := ratelimit.New(limit)
	l.limiter.Store(&newLimiter)
}
