package delivery

import (
	"fmt"

	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/metrics"
)

// SendState is the state of a SendStateMachine.
type SendState int

const (
	SendHandshakeWait SendState = iota
	SendMessageWait
	SendWindowFull
)

func (s SendState) String() string {
	switch s {
	case SendHandshakeWait:
		return "HANDSHAKE_WAIT"
	case SendMessageWait:
		return "MESSAGE_WAIT"
	case SendWindowFull:
		return "SENDWINDOW_FULL"
	default:
		return "UNKNOWN"
	}
}

// SendStateMachine owns the outgoing sequence space of a session: the pending
// queue, the resend buffer and the send window.
//
// It is not safe for concurrent use; GuaranteedDeliveryProtocol serializes it.
type SendStateMachine struct {
	port     DeliveryPort
	window   int64
	queueCap int

	state  SendState
	paused bool
	// stalled is set after the port refused a message. Nothing more is
	// transmitted until the next handshake so the peer never sees a gap.
	stalled bool
	// resendNeeded is set by a handshake reply and cleared once the resend
	// buffer has been replayed.
	resendNeeded bool

	pending deque[[]byte]
	resend  resendBuffer

	highestAcked int64
	highestSent  int64
}

// NewSendStateMachine creates a machine transmitting through port.
func NewSendStateMachine(port DeliveryPort, cfg *ReconnectConfig) *SendStateMachine {
	return &SendStateMachine{
		port:         port,
		window:       int64(cfg.SendWindow),
		queueCap:     cfg.SendQueueCap,
		highestAcked: -1,
		highestSent:  -1,
	}
}

// Start enters HANDSHAKE_WAIT.
func (s *SendStateMachine) Start() {
	s.state = SendHandshakeWait
}

// Put queues a payload. It never transmits.
func (s *SendStateMachine) Put(payload []byte) error {
	if s.queueCap > 0 && s.pending.Len() >= s.queueCap {
		return fmt.Errorf("%w: %d payloads pending", ErrSendQueueFull, s.pending.Len())
	}
	s.pending.PushBack(payload)
	metrics.UpdateMaxGaugeWithGroup(metrics.NameDeliveryPendingMax, metrics.GroupOncelink, metrics.Value(s.pending.Len()))
	return nil
}

// Execute feeds one incoming message relevant to sending. A nil message only
// attempts a flush.
func (s *SendStateMachine) Execute(msg ProtocolMessage) error {
	switch m := msg.(type) {
	case nil:
		return s.flush()
	case *HandshakeReplyOk:
		if s.state == SendHandshakeWait {
			return s.handshakeReplied(m.Ack)
		}
		return s.acked(m.Ack)
	case *Ack:
		if s.state == SendHandshakeWait {
			log.Debug().Int64("ack", m.Seq).Msg("send machine ignores ack while waiting for handshake")
			return nil
		}
		return s.acked(m.Seq)
	default:
		return fmt.Errorf("%w: %s for send machine", ErrUnexpectedMessage, msg.Kind())
	}
}

func (s *SendStateMachine) handshakeReplied(ack int64) error {
	if ack < s.highestAcked {
		return fmt.Errorf("%w: reply acks %d, already acked %d", ErrHandshakeRegressed, ack, s.highestAcked)
	}
	if ack > s.highestSent {
		return fmt.Errorf("%w: reply acks %d, highest sent %d", ErrAckOutOfRange, ack, s.highestSent)
	}

	s.highestAcked = ack
	s.resend.PurgeThrough(ack)
	s.state = SendMessageWait
	s.stalled = false
	s.resendNeeded = true

	log.Debug().Int64("ack", ack).Int("resend", s.resend.Len()).Int("pending", s.pending.Len()).
		Msg("send machine handshake replied")
	return s.flush()
}

func (s *SendStateMachine) acked(ack int64) error {
	if ack <= s.highestAcked {
		return nil
	}
	if ack > s.highestSent {
		return fmt.Errorf("%w: ack %d, highest sent %d", ErrAckOutOfRange, ack, s.highestSent)
	}

	s.highestAcked = ack
	s.resend.PurgeThrough(ack)
	metrics.IncrCounterWithGroup(metrics.NameDeliveryAckRecvTotal, metrics.GroupOncelink, 1)

	if s.state == SendWindowFull && s.headroom() > 0 {
		s.state = SendMessageWait
	}
	return s.flush()
}

func (s *SendStateMachine) headroom() int64 {
	return s.window - (s.highestSent - s.highestAcked)
}

// flush replays the resend buffer after a handshake, then transmits pending
// payloads while the window allows.
func (s *SendStateMachine) flush() error {
	if s.paused || s.stalled || s.state == SendHandshakeWait {
		return nil
	}

	if s.resendNeeded {
		var err error
		s.resend.Each(func(o *outstanding) bool {
			if !s.port.SendMessage(s.port.CreateProtocolMessage(o.seq, o.payload)) {
				o.sent = false
				err = fmt.Errorf("%w: resend of seq %d", ErrTransmitFailed, o.seq)
				return false
			}
			o.sent = true
			metrics.IncrCounterWithGroup(metrics.NameDeliveryResendTotal, metrics.GroupOncelink, 1)
			return true
		})
		if err != nil {
			s.stalled = true
			return err
		}
		s.resendNeeded = false
	}

	for s.pending.Len() > 0 && s.headroom() > 0 {
		payload := s.pending.PopFront()
		seq := s.highestSent + 1
		s.highestSent = seq

		ok := s.port.SendMessage(s.port.CreateProtocolMessage(seq, payload))
		s.resend.Append(seq, payload, ok)
		if !ok {
			s.stalled = true
			metrics.IncrCounterWithGroup(metrics.NameDeliveryTransmitFailTotal, metrics.GroupOncelink, 1)
			return fmt.Errorf("%w: seq %d", ErrTransmitFailed, seq)
		}
		metrics.IncrCounterWithGroup(metrics.NameDeliverySendTotal, metrics.GroupOncelink, 1)
	}
	metrics.UpdateMaxGaugeWithGroup(metrics.NameDeliveryResendMax, metrics.GroupOncelink, metrics.Value(s.resend.Len()))

	if s.headroom() <= 0 {
		if s.state != SendWindowFull {
			metrics.IncrCounterWithGroup(metrics.NameDeliveryWindowFullTotal, metrics.GroupOncelink, 1)
		}
		s.state = SendWindowFull
	} else {
		s.state = SendMessageWait
	}
	return nil
}

// Pause suspends transmission. Acks are still recorded.
func (s *SendStateMachine) Pause() {
	s.paused = true
}

// Resume lifts Pause and flushes.
func (s *SendStateMachine) Resume() error {
	s.paused = false
	return s.flush()
}

// AwaitHandshake returns to HANDSHAKE_WAIT keeping the sequence state, so the
// next handshake reply resumes the session and replays the resend buffer.
func (s *SendStateMachine) AwaitHandshake() {
	s.state = SendHandshakeWait
}

// Reset drops all outgoing state and returns to HANDSHAKE_WAIT.
func (s *SendStateMachine) Reset() {
	s.pending.Clear()
	s.resend.Clear()
	s.highestAcked = -1
	s.highestSent = -1
	s.state = SendHandshakeWait
	s.stalled = false
	s.resendNeeded = false
}

// IsClean reports whether nothing is pending or waiting for an ack.
func (s *SendStateMachine) IsClean() bool {
	return s.pending.Len() == 0 && s.resend.Len() == 0
}

func (s *SendStateMachine) State() SendState { return s.state }
func (s *SendStateMachine) IsPaused() bool   { return s.paused }
func (s *SendStateMachine) HighestAcked() int64 {
	return s.highestAcked
}
func (s *SendStateMachine) HighestSent() int64 {
	return s.highestSent
}
func (s *SendStateMachine) PendingLen() int { return s.pending.Len() }
func (s *SendStateMachine) ResendLen() int  { return s.resend.Len() }
