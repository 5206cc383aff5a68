package link

import (
	"errors"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/network/codec"
	"github.com/linchenxuan/oncelink/network/transport"
)

func (l *Link) CreateHandshakeMessage(lastAck int64) delivery.ProtocolMessage {
	return &delivery.Handshake{SessionID: l.protocol.SessionID(), Ack: lastAck}
}

func (l *Link) CreateHandshakeReplyOkMessage(lastAck int64) delivery.ProtocolMessage {
	return &delivery.HandshakeReplyOk{SessionID: l.protocol.SessionID(), Ack: lastAck}
}

func (l *Link) CreateAckMessage(seq int64) delivery.ProtocolMessage {
	return &delivery.Ack{SessionID: l.protocol.SessionID(), Seq: seq}
}

func (l *Link) CreateProtocolMessage(seq int64, payload []byte) delivery.ProtocolMessage {
	return &delivery.Send{SessionID: l.protocol.SessionID(), Seq: seq, Payload: payload}
}

// SendMessage encodes msg and hands it to the current transport. A connected
// transport that refuses a frame is dropped: the send machine stalls after a
// failure and only a new handshake resends what was lost.
func (l *Link) SendMessage(msg delivery.ProtocolMessage) bool {
	t := l.currentTransport()
	if t == nil {
		return false
	}
	frame, err := codec.Encode(msg, nil)
	if err != nil {
		log.Error().Err(err).Str("kind", msg.Kind().String()).Msg("encode protocol message")
		return false
	}
	if err := t.Send(frame); err != nil {
		if !errors.Is(err, transport.ErrNotConnected) {
			log.Warn().Err(err).Str("role", l.role.String()).Str("kind", msg.Kind().String()).
				Msg("transport refused frame, dropping connection")
			// the caller may hold the protocol lock, which Drop's callbacks need
			go t.Drop()
		}
		return false
	}
	return true
}

// ReceiveMessage hands a delivered payload to the channel.
func (l *Link) ReceiveMessage(msg *delivery.Send) {
	l.channel.OnMessage(msg.Payload)
}
