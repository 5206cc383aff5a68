package link

import (
	"sync"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/network/dispatcher"
	"github.com/linchenxuan/oncelink/network/transport"
)

// Acceptor serves every connection of a server endpoint. The first message on
// a connection must be a handshake; its session picks the link to resume, or
// a new link is created. Acceptor links close instead of starting over after
// a restore timeout or a protocol error, since their client comes back with a
// handshake of its own.
type Acceptor struct {
	cfg        *delivery.ReconnectConfig
	newChannel ChannelFactory
	opts       []LinkOption

	mu     sync.Mutex
	links  map[delivery.SessionID]*Link
	keys   map[*Link]delivery.SessionID
	bound  map[transport.Transport]*Link
	closed bool
}

var _ dispatcher.MessageHandler = (*Acceptor)(nil)

// NewAcceptor creates an acceptor building links with cfg and opts.
func NewAcceptor(cfg *delivery.ReconnectConfig, newChannel ChannelFactory, opts ...LinkOption) *Acceptor {
	return &Acceptor{
		cfg:        cfg,
		newChannel: newChannel,
		opts:       opts,
		links:      make(map[delivery.SessionID]*Link),
		keys:       make(map[*Link]delivery.SessionID),
		bound:      make(map[transport.Transport]*Link),
	}
}

func (a *Acceptor) OnTransportConnected(t transport.Transport) {
	log.Debug().Msg("acceptor waits for handshake")
}

func (a *Acceptor) OnTransportDisconnected(t transport.Transport) {
	if l := a.unbind(t); l != nil {
		l.OnTransportDisconnected(t)
	}
}

func (a *Acceptor) OnTransportClosed(t transport.Transport) {
	if l := a.unbind(t); l != nil {
		l.OnTransportClosed(t)
	}
}

func (a *Acceptor) OnRecvMessage(t transport.Transport, msg delivery.ProtocolMessage) {
	a.mu.Lock()
	l := a.bound[t]
	a.mu.Unlock()

	if l != nil {
		l.OnRecvMessage(t, msg)
		if _, ok := msg.(*delivery.Handshake); ok {
			a.rekey(l)
		}
		return
	}

	hs, ok := msg.(*delivery.Handshake)
	if !ok {
		log.Warn().Str("kind", msg.Kind().String()).Str("session", msg.Session().String()).
			Msg("acceptor drops message before handshake")
		return
	}
	l = a.attach(t, hs)
	if l == nil {
		return
	}
	l.OnTransportConnected(t)
	l.OnRecvMessage(t, hs)
	a.rekey(l)
}

// attach binds t to the link of the handshake's session, creating it when the
// session is unknown.
func (a *Acceptor) attach(t transport.Transport, hs *delivery.Handshake) *Link {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		t.Drop()
		return nil
	}
	l := a.links[hs.SessionID]
	if l != nil && !hs.SessionID.IsNil() {
		a.bound[t] = l
		a.mu.Unlock()
		log.Info().Str("session", hs.SessionID.String()).Msg("acceptor resumes link")
		return l
	}
	a.mu.Unlock()

	opts := append([]LinkOption{}, a.opts...)
	opts = append(opts, WithRetireOnFailure(), WithOnClose(a.forget))
	l, err := newLink(RoleServer, a.cfg, a.newChannel, opts...)
	if err != nil {
		log.Error().Err(err).Msg("acceptor create link")
		t.Drop()
		return nil
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = l.Close()
		t.Drop()
		return nil
	}
	a.bound[t] = l
	a.keys[l] = delivery.NilSessionID
	a.mu.Unlock()
	log.Info().Str("session", hs.SessionID.String()).Int64("ack", hs.Ack).Msg("acceptor created link")
	return l
}

// rekey indexes l by its current session, which a handshake may change.
func (a *Acceptor) rekey(l *Link) {
	if l.IsClosed() {
		return
	}
	id := l.SessionID()

	a.mu.Lock()
	defer a.mu.Unlock()
	old, ok := a.keys[l]
	if !ok {
		return
	}
	if old == id {
		return
	}
	if a.links[old] == l {
		delete(a.links, old)
	}
	a.links[id] = l
	a.keys[l] = id
}

func (a *Acceptor) unbind(t transport.Transport) *Link {
	a.mu.Lock()
	defer a.mu.Unlock()
	l := a.bound[t]
	delete(a.bound, t)
	return l
}

func (a *Acceptor) forget(l *Link) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.keys[l]; ok {
		if a.links[id] == l {
			delete(a.links, id)
		}
		delete(a.keys, l)
	}
	for t, bl := range a.bound {
		if bl == l {
			delete(a.bound, t)
		}
	}
}

// Links returns the live links.
func (a *Acceptor) Links() []*Link {
	a.mu.Lock()
	defer a.mu.Unlock()
	links := make([]*Link, 0, len(a.keys))
	for l := range a.keys {
		links = append(links, l)
	}
	return links
}

// Link returns the link of session id, if any.
func (a *Acceptor) Link(id delivery.SessionID) (*Link, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[id]
	return l, ok
}

// Close closes every link and refuses new ones.
func (a *Acceptor) Close() {
	a.mu.Lock()
	a.closed = true
	links := make([]*Link, 0, len(a.keys))
	for l := range a.keys {
		links = append(links, l)
	}
	a.mu.Unlock()

	for _, l := range links {
		_ = l.Close()
	}
}
