package delivery

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/metrics"
)

// GuaranteedDeliveryProtocol pairs a SendStateMachine and a
// ReceiveStateMachine on one session and routes incoming protocol messages to
// them. All operations are safe for concurrent use.
//
// Payloads accepted by the receive machine are handed to the port after the
// internal lock is released, in the order they were accepted, so the port may
// call Send from ReceiveMessage. ReceiveMessage must not call Receive.
type GuaranteedDeliveryProtocol struct {
	mu       sync.Mutex
	port     DeliveryPort
	sender   *SendStateMachine
	receiver *ReceiveStateMachine
	started  bool
	session  atomic.Pointer[SessionID]

	// accepted sends waiting for upward delivery, filled under mu.
	inbox []*Send

	deliverMu   sync.Mutex
	deliverCond *sync.Cond
	nextTicket  uint64
	turn        uint64
}

// NewGuaranteedDeliveryProtocol builds a protocol on port with the given policy.
func NewGuaranteedDeliveryProtocol(port DeliveryPort, cfg *ReconnectConfig) (*GuaranteedDeliveryProtocol, error) {
	if cfg == nil {
		cfg = DefaultReconnectConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &GuaranteedDeliveryProtocol{port: port}
	p.deliverCond = sync.NewCond(&p.deliverMu)
	inner := &collectingPort{DeliveryPort: port, p: p}
	p.sender = NewSendStateMachine(inner, cfg)
	p.receiver = NewReceiveStateMachine(inner, cfg)
	p.session.Store(&NilSessionID)
	return p, nil
}

// collectingPort defers upward deliveries until the protocol lock is released.
type collectingPort struct {
	DeliveryPort
	p *GuaranteedDeliveryProtocol
}

func (c *collectingPort) ReceiveMessage(msg *Send) {
	c.p.inbox = append(c.p.inbox, msg)
}

// Start mints a session if none exists and starts both machines.
func (p *GuaranteedDeliveryProtocol) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.SessionID().IsNil() {
		p.setSession(NewSessionID())
	}
	p.sender.Start()
	p.receiver.Start()
	p.started = true
}

// Send queues payload and transmits as much as the window allows.
// Window-full and pause are not errors; the payload waits in the queue.
func (p *GuaranteedDeliveryProtocol) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrNotStarted
	}
	if err := p.sender.Put(payload); err != nil {
		return err
	}
	return p.sender.Execute(nil)
}

// Receive dispatches one incoming protocol message. Messages of any other
// session, handshakes included, are stale and dropped silently, as is
// duplicate traffic. A returned error wrapping ErrSequenceGap or
// ErrAckOutOfRange means the session is broken and must be reset. Use Adopt
// to take over a session minted by the peer.
func (p *GuaranteedDeliveryProtocol) Receive(msg ProtocolMessage) error {
	p.mu.Lock()
	err := p.dispatch(msg)
	p.unlockAndDeliver()
	return err
}

func (p *GuaranteedDeliveryProtocol) dispatch(msg ProtocolMessage) error {
	if !p.started {
		return ErrNotStarted
	}

	switch m := msg.(type) {
	case *HandshakeReplyFail, *Goodbye:
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, m.Kind())
	case nil:
		return fmt.Errorf("%w: nil", ErrUnexpectedMessage)
	}
	if p.stale(msg) {
		return nil
	}

	switch m := msg.(type) {
	case *Handshake:
		return p.receiver.Execute(m)
	case *HandshakeReplyOk:
		p.receiver.Established()
		return p.sender.Execute(m)
	case *Ack:
		return p.sender.Execute(m)
	case *Send:
		return p.receiver.Execute(m)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, kindOf(msg))
	}
}

// Adopt switches to a session opened by the peer. It is only allowed while
// both machines wait for a handshake and nothing was sent or received under
// the current session, so no sequence state can leak between sessions.
// Payloads queued but not yet sent move to the adopted session.
func (p *GuaranteedDeliveryProtocol) Adopt(id SessionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id.IsNil() {
		return fmt.Errorf("%w: nil session", ErrSessionInUse)
	}
	if id == p.SessionID() {
		return nil
	}
	if !p.fresh() {
		return fmt.Errorf("%w: %s sent %d, expected %d", ErrSessionInUse, p.SessionID(),
			p.sender.HighestSent(), p.receiver.ExpectedNext())
	}
	log.Debug().Str("session", id.String()).Str("previous", p.SessionID().String()).Msg("adopt peer session")
	p.setSession(id)
	return nil
}

func (p *GuaranteedDeliveryProtocol) fresh() bool {
	return p.sender.State() == SendHandshakeWait && p.receiver.State() == ReceiveHandshakeWait &&
		p.sender.HighestSent() == -1 && p.sender.ResendLen() == 0 && p.receiver.ExpectedNext() == 0
}

func (p *GuaranteedDeliveryProtocol) stale(msg ProtocolMessage) bool {
	if msg.Session() == p.SessionID() {
		return false
	}
	metrics.IncrCounterWithDimGroup(metrics.NameDeliveryStaleTotal, metrics.GroupOncelink, 1,
		metrics.Dimension{metrics.DimKind: msg.Kind().String()})
	log.Debug().Str("kind", msg.Kind().String()).Str("session", msg.Session().String()).
		Str("current", p.SessionID().String()).Msg("drop message of stale session")
	return true
}

// unlockAndDeliver releases mu and hands collected payloads to the port.
// Batches are delivered in the order they were collected.
func (p *GuaranteedDeliveryProtocol) unlockAndDeliver() {
	if len(p.inbox) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.inbox
	p.inbox = nil
	ticket := p.nextTicket
	p.nextTicket++
	p.mu.Unlock()

	p.deliverMu.Lock()
	for p.turn != ticket {
		p.deliverCond.Wait()
	}
	p.deliverMu.Unlock()

	for _, m := range batch {
		p.port.ReceiveMessage(m)
	}

	p.deliverMu.Lock()
	p.turn++
	p.deliverCond.Broadcast()
	p.deliverMu.Unlock()
}

// Pause stops transmission. Receiving is never paused.
func (p *GuaranteedDeliveryProtocol) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sender.Pause()
}

// Resume restarts transmission and flushes whatever the window allows.
func (p *GuaranteedDeliveryProtocol) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sender.Resume()
}

// Suspend is used when the transport is lost but the session may be resumed:
// it pauses sending and makes both machines wait for a handshake, keeping
// sequence state and buffers.
func (p *GuaranteedDeliveryProtocol) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sender.Pause()
	p.sender.AwaitHandshake()
	p.receiver.AwaitHandshake()
}

// Reset discards all state of both machines and mints a new session.
func (p *GuaranteedDeliveryProtocol) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sender.Reset()
	p.receiver.Reset()
	p.setSession(NewSessionID())
}

// IsClean reports whether both machines are clean.
func (p *GuaranteedDeliveryProtocol) IsClean() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sender.IsClean() && p.receiver.IsClean()
}

// IsPaused reports whether sending is paused.
func (p *GuaranteedDeliveryProtocol) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sender.IsPaused()
}

// FlushAck acknowledges deliveries not yet covered by an ack.
func (p *GuaranteedDeliveryProtocol) FlushAck() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	return p.receiver.FlushAck()
}

// NewHandshake builds a handshake carrying the receive watermark.
func (p *GuaranteedDeliveryProtocol) NewHandshake() ProtocolMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.CreateHandshakeMessage(p.receiver.Received())
}

// Received is the highest sequence delivered in order, -1 if none.
func (p *GuaranteedDeliveryProtocol) Received() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receiver.Received()
}

// SessionID returns the current session. It does not take the protocol lock,
// so the port may call it while building messages.
func (p *GuaranteedDeliveryProtocol) SessionID() SessionID {
	return *p.session.Load()
}

func (p *GuaranteedDeliveryProtocol) setSession(id SessionID) {
	p.session.Store(&id)
}

// Stats is a snapshot of the protocol state.
type Stats struct {
	Session      SessionID
	SendState    SendState
	ReceiveState ReceiveState
	Paused       bool
	HighestAcked int64
	HighestSent  int64
	Pending      int
	Resend       int
	ExpectedNext int64
}

// MarshalLogObj writes the snapshot into a log event.
func (s Stats) MarshalLogObj(e *log.LogEvent) {
	e.Str("session", s.Session.String()).
		Str("sendState", s.SendState.String()).
		Str("recvState", s.ReceiveState.String()).
		Bool("paused", s.Paused).
		Int64("highestAcked", s.HighestAcked).
		Int64("highestSent", s.HighestSent).
		Int("pending", s.Pending).
		Int("resend", s.Resend).
		Int64("expectedNext", s.ExpectedNext)
}

// Stats returns a snapshot of both machines.
func (p *GuaranteedDeliveryProtocol) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Session:      p.SessionID(),
		SendState:    p.sender.State(),
		ReceiveState: p.receiver.State(),
		Paused:       p.sender.IsPaused(),
		HighestAcked: p.sender.HighestAcked(),
		HighestSent:  p.sender.HighestSent(),
		Pending:      p.sender.PendingLen(),
		Resend:       p.sender.ResendLen(),
		ExpectedNext: p.receiver.ExpectedNext(),
	}
}
