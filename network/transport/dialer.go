package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/linchenxuan/oncelink/log"
)

// DialFunc opens a connection to addr.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Dialer is the client side Transport. It keeps one connection to its
// address and redials after the connection is lost, until Close. The
// listener always sees the Dialer itself, never the connection beneath.
type Dialer struct {
	kind string
	cfg  *ConnCfg
	dial DialFunc

	ctx    context.Context
	cancel context.CancelFunc
	down   chan struct{}

	mu        sync.Mutex
	listener  Listener
	conn      *ConnTransport
	started   bool
	closed    bool
	closeOnce sync.Once
}

var _ Transport = (*Dialer)(nil)

// NewDialer creates a dialer. Nothing is dialed before Start.
func NewDialer(kind string, cfg *ConnCfg, dial DialFunc) *Dialer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dialer{
		kind:   kind,
		cfg:    cfg,
		dial:   dial,
		ctx:    ctx,
		cancel: cancel,
		down:   make(chan struct{}, 1),
	}
}

// Start begins dialing in the background.
func (d *Dialer) Start(l Listener) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.started {
		return errors.New("transport: dialer already started")
	}
	d.started = true
	d.listener = l
	go d.run()
	return nil
}

func (d *Dialer) run() {
	for {
		conn, err := d.dial(d.ctx, d.cfg.Addr)
		switch {
		case err != nil:
			if d.ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("transport", d.kind).Str("addr", d.cfg.Addr).Msg("dial failed")
		case !d.attach(conn):
			return
		default:
			select {
			case <-d.down:
			case <-d.ctx.Done():
				return
			}
		}

		select {
		case <-time.After(d.cfg.RedialInterval):
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dialer) attach(conn net.Conn) bool {
	ct := NewConnTransport(d.kind, conn, d.cfg, dialerHook{d})
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = conn.Close()
		return false
	}
	d.conn = ct
	d.mu.Unlock()

	ct.Serve()
	return true
}

func (d *Dialer) current() *ConnTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

// Send implements Transport.
func (d *Dialer) Send(frame []byte) error {
	c := d.current()
	if c == nil {
		return ErrNotConnected
	}
	return c.Send(frame)
}

// IsConnected implements Transport.
func (d *Dialer) IsConnected() bool {
	c := d.current()
	return c != nil && c.IsConnected()
}

// Drop closes the current connection; the dialer redials after RedialInterval.
func (d *Dialer) Drop() {
	if c := d.current(); c != nil {
		c.Drop()
	}
}

// Close stops redialing and closes the connection.
func (d *Dialer) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		conn, l := d.conn, d.listener
		d.conn = nil
		d.mu.Unlock()

		d.cancel()
		if conn != nil {
			_ = conn.Close()
		}
		if l != nil {
			l.OnTransportClosed(d)
		}
	})
	return nil
}

// dialerHook receives events of the dialer's connections and reports them
// as events of the dialer.
type dialerHook struct {
	d *Dialer
}

func (h dialerHook) OnTransportConnected(Transport) {
	h.d.listener.OnTransportConnected(h.d)
}

func (h dialerHook) OnTransportDisconnected(t Transport) {
	h.d.mu.Lock()
	if h.d.conn != nil && h.d.conn == t {
		h.d.conn = nil
	}
	h.d.mu.Unlock()

	h.d.listener.OnTransportDisconnected(h.d)
	h.signalDown()
}

// OnTransportClosed only happens from Dialer.Close, which reports itself.
func (h dialerHook) OnTransportClosed(Transport) {
	h.signalDown()
}

func (h dialerHook) OnRecvFrame(_ Transport, frame []byte) {
	h.d.listener.OnRecvFrame(h.d, frame)
}

func (h dialerHook) signalDown() {
	select {
	case h.d.down <- struct{}{}:
	default:
	}
}
