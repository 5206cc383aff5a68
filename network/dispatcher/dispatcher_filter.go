package dispatcher

import (
	"errors"
	"fmt"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/metrics"
	"github.com/linchenxuan/oncelink/network/codec"
	"github.com/linchenxuan/oncelink/network/transport"
)

var (
	// ErrFrameTooLarge is returned by the size filter.
	ErrFrameTooLarge = errors.New("dispatcher: frame too large")
	// ErrFiltered is returned when a message kind is filtered out.
	ErrFiltered = errors.New("dispatcher: message kind filtered")
)

// FrameContext carries one frame through the filter chain. Msg is set by the
// decode filter.
type FrameContext struct {
	Transport transport.Transport
	Frame     []byte
	Msg       delivery.ProtocolMessage
}

// FilterHandleFunc is the rest of the chain as seen from a filter.
type FilterHandleFunc func(fc *FrameContext) error

// DispatcherFilter intercepts a frame and decides whether to call next.
type DispatcherFilter func(fc *FrameContext, next FilterHandleFunc) error

// DispatcherFilterChain is the ordered processing pipeline for incoming frames.
type DispatcherFilterChain []DispatcherFilter

// Handle runs the chain and then f.
func (fc DispatcherFilterChain) Handle(ctx *FrameContext, f FilterHandleFunc) error {
	if len(fc) == 0 {
		return f(ctx)
	}
	return fc[0](ctx, func(ctx *FrameContext) error {
		return fc[1:].Handle(ctx, f)
	})
}

func (d *Dispatcher) sizeFilter(fc *FrameContext, f FilterHandleFunc) error {
	d.lock.RLock()
	limit := d.maxFrameSize
	d.lock.RUnlock()
	if len(fc.Frame) > limit {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(fc.Frame), limit)
	}
	return f(fc)
}

// decodeFilter drops the connection on a malformed frame: on a stream
// transport nothing after it can be trusted.
func (d *Dispatcher) decodeFilter(fc *FrameContext, f FilterHandleFunc) error {
	msg, err := codec.Decode(fc.Frame)
	if err != nil {
		metrics.IncrCounterWithGroup(metrics.NameDispatcherDecodeFailTotal, metrics.GroupOncelink, 1)
		log.Error().Err(err).Int("size", len(fc.Frame)).Msg("decode frame failed, dropping connection")
		if fc.Transport != nil {
			fc.Transport.Drop()
		}
		return err
	}
	fc.Msg = msg
	return f(fc)
}

// reloadKindFilter must be called with the write lock held.
func (d *Dispatcher) reloadKindFilter(kinds []string) {
	m := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		m[k] = struct{}{}
	}
	d.kindFilter = m
}

func (d *Dispatcher) kindFilterFunc(fc *FrameContext, f FilterHandleFunc) error {
	kind := fc.Msg.Kind().String()
	d.lock.RLock()
	_, drop := d.kindFilter[kind]
	d.lock.RUnlock()
	if drop {
		return fmt.Errorf("%w: %s", ErrFiltered, kind)
	}
	return f(fc)
}
