// Package link puts a guaranteed delivery session on top of a transport.
//
// A Link survives transport loss: when the connection comes back, client and
// server exchange a handshake carrying their receive watermarks and every
// unacknowledged message is sent again, so the Channel above sees each
// payload exactly once and in order. When one side lost its state, the
// handshake fails, both sides start a new session and the Channel is told
// with a forced disconnect.
package link

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/event"
	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/network/dispatcher"
	"github.com/linchenxuan/oncelink/network/transport"
)

// ErrLinkClosed is returned by Send after Close.
var ErrLinkClosed = errors.New("link: closed")

// Channel is the layer above a link.
type Channel interface {
	// OnConnected is called when a session is usable, the first time and
	// after every OnDisconnected.
	OnConnected()
	// OnDisconnected is called when the session ended. forced means the
	// session was reset by the protocol and undelivered messages were lost.
	OnDisconnected(forced bool)
	OnClosed()
	// OnMessage delivers one payload. It may call Send.
	OnMessage(payload []byte)
}

// Role is the side of a link.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Link implements delivery.DeliveryPort for one peer and receives that
// peer's messages from a dispatcher.
type Link struct {
	role      Role
	cfg       *delivery.ReconnectConfig
	channel   Channel
	protocol  *delivery.GuaranteedDeliveryProtocol
	publisher *event.Publisher
	retire    bool
	onClose   []func(*Link)

	tmu       sync.RWMutex
	transport transport.Transport

	mu               sync.Mutex
	handshakeMode    bool
	channelConnected bool
	established      bool
	handshakeSent    time.Time
	handshakeTimer   *time.Timer
	handshakeGen     uint64
	restoreTimer     *time.Timer
	restoreGen       uint64

	closed  atomic.Bool
	stopAck chan struct{}
}

var (
	_ delivery.DeliveryPort     = (*Link)(nil)
	_ dispatcher.MessageHandler = (*Link)(nil)
)

// LinkOption configures a Link.
type LinkOption func(l *Link)

// WithPublisher publishes lifecycle events to p. p must have the link topics.
func WithPublisher(p *event.Publisher) LinkOption {
	return func(l *Link) {
		l.publisher = p
	}
}

// WithRetireOnFailure closes the link instead of starting a new session
// after a restore timeout or a protocol error. Server links owned by an
// Acceptor use it, since the client comes back as a new link.
func WithRetireOnFailure() LinkOption {
	return func(l *Link) {
		l.retire = true
	}
}

// WithOnClose calls fn once after the link closed. Hooks run in the order
// they were given.
func WithOnClose(fn func(*Link)) LinkOption {
	return func(l *Link) {
		l.onClose = append(l.onClose, fn)
	}
}

// NewClientLink creates the dialing side. t is the redialing transport the
// link closes on Close; its events must reach the link through a dispatcher.
func NewClientLink(t transport.Transport, cfg *delivery.ReconnectConfig, ch Channel, opts ...LinkOption) (*Link, error) {
	l, err := newLink(RoleClient, cfg, fixedChannel(ch), opts...)
	if err != nil {
		return nil, err
	}
	l.swapTransport(t)
	return l, nil
}

// NewServerLink creates the accepting side. Its transport is whatever
// connection reports itself through OnTransportConnected.
func NewServerLink(cfg *delivery.ReconnectConfig, ch Channel, opts ...LinkOption) (*Link, error) {
	return newLink(RoleServer, cfg, fixedChannel(ch), opts...)
}

// ChannelFactory builds the channel of a link the Acceptor creates. The link
// must not be used before the factory returns.
type ChannelFactory func(l *Link) Channel

func fixedChannel(ch Channel) ChannelFactory {
	return func(*Link) Channel { return ch }
}

func newLink(role Role, cfg *delivery.ReconnectConfig, newChannel ChannelFactory, opts ...LinkOption) (*Link, error) {
	if cfg == nil {
		cfg = delivery.DefaultReconnectConfig()
	}

	l := &Link{
		role:    role,
		cfg:     cfg,
		stopAck: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.channel = newChannel(l); l.channel == nil {
		return nil, errors.New("link: nil channel")
	}

	p, err := delivery.NewGuaranteedDeliveryProtocol(l, cfg)
	if err != nil {
		return nil, err
	}
	l.protocol = p
	p.Start()
	// nothing may be sent before the first handshake
	p.Suspend()

	if cfg.AckTimeout > 0 {
		go l.flushAcks(cfg.AckTimeout)
	}
	return l, nil
}

// Send queues payload for delivery. It returns delivery.ErrSendQueueFull when
// the queue is bounded and full; a payload accepted while the transport is
// down is sent after the next handshake.
func (l *Link) Send(payload []byte) error {
	if l.closed.Load() {
		return ErrLinkClosed
	}
	err := l.protocol.Send(payload)
	if errors.Is(err, delivery.ErrTransmitFailed) {
		log.Debug().Err(err).Str("role", l.role.String()).Msg("send kept for resend after handshake")
		return nil
	}
	return err
}

// Role returns the side of the link.
func (l *Link) Role() Role { return l.role }

// SessionID returns the current session.
func (l *Link) SessionID() delivery.SessionID { return l.protocol.SessionID() }

// Stats returns a snapshot of the delivery protocol.
func (l *Link) Stats() delivery.Stats { return l.protocol.Stats() }

// IsConnected reports whether the channel is connected and sending is live.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.channelConnected && !l.handshakeMode && !l.protocol.IsPaused()
}

// IsClosed reports whether Close was called.
func (l *Link) IsClosed() bool { return l.closed.Load() }

func (l *Link) currentTransport() transport.Transport {
	l.tmu.RLock()
	defer l.tmu.RUnlock()
	return l.transport
}

func (l *Link) isCurrent(t transport.Transport) bool {
	return t != nil && l.currentTransport() == t
}

func (l *Link) swapTransport(t transport.Transport) transport.Transport {
	l.tmu.Lock()
	defer l.tmu.Unlock()
	old := l.transport
	l.transport = t
	return old
}

// flushAcks acknowledges partial batches so a quiet sender's tail is not
// left unacknowledged.
func (l *Link) flushAcks(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopAck:
			return
		case <-ticker.C:
			l.mu.Lock()
			live := l.channelConnected && !l.handshakeMode
			l.mu.Unlock()
			if !live {
				continue
			}
			if err := l.protocol.FlushAck(); err != nil {
				log.Debug().Err(err).Str("role", l.role.String()).Msg("flush ack failed")
			}
		}
	}
}

// notes collects channel notifications and events while the link lock is
// held, to run them after it is released.
type notes []func()

func (n *notes) add(fn func()) {
	*n = append(*n, fn)
}

func (n notes) run() {
	for _, fn := range n {
		fn()
	}
}

func (l *Link) publishLater(n *notes, topic string, forced bool, err error) {
	if l.publisher == nil {
		return
	}
	ev := event.LinkEvent{
		Name:    topic,
		Session: l.protocol.SessionID().String(),
		Server:  l.role == RoleServer,
		Forced:  forced,
		Err:     err,
	}
	n.add(func() {
		if perr := l.publisher.Publish(topic, ev); perr != nil {
			log.Warn().Err(perr).Str("topic", topic).Msg("publish link event failed")
		}
	})
}
