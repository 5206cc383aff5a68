package delivery

import (
	"fmt"

	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/metrics"
)

// ReceiveState is the state of a ReceiveStateMachine.
type ReceiveState int

const (
	ReceiveHandshakeWait ReceiveState = iota
	ReceiveMessageWait
)

func (s ReceiveState) String() string {
	switch s {
	case ReceiveHandshakeWait:
		return "HANDSHAKE_WAIT"
	case ReceiveMessageWait:
		return "MESSAGE_WAIT"
	default:
		return "UNKNOWN"
	}
}

// ReceiveStateMachine owns the incoming sequence space of a session. It
// delivers in-order sends exactly once and acknowledges them in batches of
// maxDelayedAcks.
//
// A duplicate send is not delivered again, but it is answered with a
// cumulative ack so a sender that lost an ack can move on.
type ReceiveStateMachine struct {
	port           DeliveryPort
	maxDelayedAcks int

	state        ReceiveState
	expectedNext int64
	unacked      int
}

// NewReceiveStateMachine creates a machine delivering and acking through port.
func NewReceiveStateMachine(port DeliveryPort, cfg *ReconnectConfig) *ReceiveStateMachine {
	return &ReceiveStateMachine{
		port:           port,
		maxDelayedAcks: cfg.MaxDelayedAcks,
	}
}

// Start enters HANDSHAKE_WAIT.
func (r *ReceiveStateMachine) Start() {
	r.state = ReceiveHandshakeWait
}

// Execute feeds one incoming handshake or send.
func (r *ReceiveStateMachine) Execute(msg ProtocolMessage) error {
	switch m := msg.(type) {
	case *Handshake:
		return r.handshake()
	case *Send:
		return r.receive(m)
	default:
		return fmt.Errorf("%w: %v for receive machine", ErrUnexpectedMessage, kindOf(msg))
	}
}

func (r *ReceiveStateMachine) handshake() error {
	r.state = ReceiveMessageWait
	r.unacked = 0
	if !r.port.SendMessage(r.port.CreateHandshakeReplyOkMessage(r.expectedNext - 1)) {
		return fmt.Errorf("%w: handshake reply", ErrTransmitFailed)
	}
	return nil
}

// Established moves the machine to MESSAGE_WAIT when the session was opened
// by the local side.
func (r *ReceiveStateMachine) Established() {
	r.state = ReceiveMessageWait
}

// AwaitHandshake returns to HANDSHAKE_WAIT keeping the receive cursor.
func (r *ReceiveStateMachine) AwaitHandshake() {
	r.state = ReceiveHandshakeWait
}

func (r *ReceiveStateMachine) receive(m *Send) error {
	if r.state != ReceiveMessageWait {
		metrics.IncrCounterWithDimGroup(metrics.NameDeliveryStaleTotal, metrics.GroupOncelink, 1,
			metrics.Dimension{metrics.DimKind: m.Kind().String()})
		log.Debug().Int64("seq", m.Seq).Msg("receive machine drops send before handshake")
		return nil
	}

	switch {
	case m.Seq == r.expectedNext:
		r.port.ReceiveMessage(m)
		r.expectedNext++
		r.unacked++
		metrics.IncrCounterWithGroup(metrics.NameDeliveryDeliveredTotal, metrics.GroupOncelink, 1)
		if r.unacked >= r.maxDelayedAcks {
			return r.ack()
		}
		return nil

	case m.Seq < r.expectedNext:
		metrics.IncrCounterWithGroup(metrics.NameDeliveryDuplicateTotal, metrics.GroupOncelink, 1)
		log.Debug().Int64("seq", m.Seq).Int64("expected", r.expectedNext).Msg("receive machine drops duplicate send")
		return r.ack()

	default:
		metrics.IncrCounterWithGroup(metrics.NameDeliverySeqGapTotal, metrics.GroupOncelink, 1)
		return fmt.Errorf("%w: got %d, expected %d", ErrSequenceGap, m.Seq, r.expectedNext)
	}
}

// FlushAck acknowledges a partial batch. It does nothing when every delivery
// is already acknowledged.
func (r *ReceiveStateMachine) FlushAck() error {
	if r.state != ReceiveMessageWait || r.unacked == 0 {
		return nil
	}
	return r.ack()
}

func (r *ReceiveStateMachine) ack() error {
	r.unacked = 0
	metrics.IncrCounterWithGroup(metrics.NameDeliveryAckSentTotal, metrics.GroupOncelink, 1)
	if !r.port.SendMessage(r.port.CreateAckMessage(r.expectedNext - 1)) {
		return fmt.Errorf("%w: ack %d", ErrTransmitFailed, r.expectedNext-1)
	}
	return nil
}

// Reset returns to the initial cursor and HANDSHAKE_WAIT.
func (r *ReceiveStateMachine) Reset() {
	r.expectedNext = 0
	r.unacked = 0
	r.state = ReceiveHandshakeWait
}

// IsClean reports whether every delivery has been acknowledged.
func (r *ReceiveStateMachine) IsClean() bool {
	return r.unacked == 0
}

func (r *ReceiveStateMachine) State() ReceiveState { return r.state }
func (r *ReceiveStateMachine) ExpectedNext() int64 { return r.expectedNext }

// Received is the watermark reported in handshakes.
func (r *ReceiveStateMachine) Received() int64 { return r.expectedNext - 1 }

func kindOf(msg ProtocolMessage) string {
	if msg == nil {
		return "nil"
	}
	return msg.Kind().String()
}
