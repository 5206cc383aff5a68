// Package codec encodes delivery protocol messages into frame bodies.
//
// The wire format is a protobuf message written with protowire, so peers in
// other languages can read it with a generated type:
//
//	message Frame {
//	  uint32 kind    = 1; // exactly one bit of Flag*
//	  bytes  session = 2; // 16 bytes
//	  sint64 sent    = 3;
//	  sint64 ack     = 4;
//	  bytes  payload = 5;
//	}
package codec

import (
	"errors"
	"fmt"

	"github.com/linchenxuan/oncelink/delivery"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind flags carried in field 1.
const (
	FlagHandshake          uint32 = 1 << 0
	FlagHandshakeReplyOk   uint32 = 1 << 1
	FlagSend               uint32 = 1 << 2
	FlagAck                uint32 = 1 << 3
	FlagHandshakeReplyFail uint32 = 1 << 4
	FlagGoodbye            uint32 = 1 << 5
)

const (
	fieldKind    protowire.Number = 1
	fieldSession protowire.Number = 2
	fieldSent    protowire.Number = 3
	fieldAck     protowire.Number = 4
	fieldPayload protowire.Number = 5
)

var (
	// ErrMalformed is wrapped by every decode error.
	ErrMalformed = errors.New("codec: malformed frame")
	// ErrUnknownMessage is returned when encoding a message the codec does not know.
	ErrUnknownMessage = errors.New("codec: unknown message")

	_codec Codec = WireCodec{}
)

// Codec turns protocol messages into frame bodies and back.
type Codec interface {
	// Encode appends the encoding of m to b.
	Encode(m delivery.ProtocolMessage, b []byte) ([]byte, error)
	Decode(b []byte) (delivery.ProtocolMessage, error)
}

// Encode uses the package codec.
func Encode(m delivery.ProtocolMessage, b []byte) ([]byte, error) {
	return _codec.Encode(m, b)
}

// Decode uses the package codec.
func Decode(b []byte) (delivery.ProtocolMessage, error) {
	return _codec.Decode(b)
}

// SetCodec replaces the package codec and returns the previous one. Call it
// before any traffic. A nil codec restores WireCodec.
func SetCodec(c Codec) Codec {
	prev := _codec
	if c == nil {
		c = WireCodec{}
	}
	_codec = c
	return prev
}

// WireCodec is the protowire codec described in the package comment.
type WireCodec struct{}

func (WireCodec) Encode(m delivery.ProtocolMessage, b []byte) ([]byte, error) {
	flag, err := flagOf(m)
	if err != nil {
		return nil, err
	}

	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(flag))
	b = protowire.AppendTag(b, fieldSession, protowire.BytesType)
	s := m.Session()
	b = protowire.AppendBytes(b, s[:])

	switch v := m.(type) {
	case *delivery.Handshake:
		b = appendSint(b, fieldAck, v.Ack)
	case *delivery.HandshakeReplyOk:
		b = appendSint(b, fieldAck, v.Ack)
	case *delivery.Send:
		b = appendSint(b, fieldSent, v.Seq)
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Payload)
	case *delivery.Ack:
		b = appendSint(b, fieldAck, v.Seq)
	}
	return b, nil
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func flagOf(m delivery.ProtocolMessage) (uint32, error) {
	switch m.(type) {
	case *delivery.Handshake:
		return FlagHandshake, nil
	case *delivery.HandshakeReplyOk:
		return FlagHandshakeReplyOk, nil
	case *delivery.HandshakeReplyFail:
		return FlagHandshakeReplyFail, nil
	case *delivery.Send:
		return FlagSend, nil
	case *delivery.Ack:
		return FlagAck, nil
	case *delivery.Goodbye:
		return FlagGoodbye, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}
}

type frame struct {
	kind       uint32
	session    []byte
	sent, ack  int64
	hasSent    bool
	hasAck     bool
	payload    []byte
	hasKind    bool
	hasSession bool
}

// Decode parses b. The payload of a Send aliases b.
func (WireCodec) Decode(b []byte) (delivery.ProtocolMessage, error) {
	var f frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: kind: %v", ErrMalformed, protowire.ParseError(n))
			}
			f.kind, f.hasKind = uint32(v), true
			b = b[n:]
		case num == fieldSession && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: session: %v", ErrMalformed, protowire.ParseError(n))
			}
			f.session, f.hasSession = v, true
			b = b[n:]
		case (num == fieldSent || num == fieldAck) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: seq: %v", ErrMalformed, protowire.ParseError(n))
			}
			if num == fieldSent {
				f.sent, f.hasSent = protowire.DecodeZigZag(v), true
			} else {
				f.ack, f.hasAck = protowire.DecodeZigZag(v), true
			}
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, protowire.ParseError(n))
			}
			f.payload = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return f.message()
}

func (f *frame) message() (delivery.ProtocolMessage, error) {
	if !f.hasKind {
		return nil, fmt.Errorf("%w: missing kind", ErrMalformed)
	}
	if f.kind == 0 || f.kind&(f.kind-1) != 0 {
		return nil, fmt.Errorf("%w: kind flags %#x must have exactly one bit", ErrMalformed, f.kind)
	}
	if !f.hasSession {
		return nil, fmt.Errorf("%w: missing session", ErrMalformed)
	}
	session, err := delivery.SessionIDFromBytes(f.session)
	if err != nil {
		return nil, fmt.Errorf("%w: session: %v", ErrMalformed, err)
	}

	switch f.kind {
	case FlagHandshake:
		if !f.hasAck {
			return nil, fmt.Errorf("%w: handshake without ack", ErrMalformed)
		}
		return &delivery.Handshake{SessionID: session, Ack: f.ack}, nil
	case FlagHandshakeReplyOk:
		if !f.hasAck {
			return nil, fmt.Errorf("%w: handshake reply without ack", ErrMalformed)
		}
		return &delivery.HandshakeReplyOk{SessionID: session, Ack: f.ack}, nil
	case FlagHandshakeReplyFail:
		return &delivery.HandshakeReplyFail{SessionID: session}, nil
	case FlagSend:
		if !f.hasSent || f.sent < 0 {
			return nil, fmt.Errorf("%w: send without a valid sequence", ErrMalformed)
		}
		return &delivery.Send{SessionID: session, Seq: f.sent, Payload: f.payload}, nil
	case FlagAck:
		if !f.hasAck || f.ack < 0 {
			return nil, fmt.Errorf("%w: ack without a valid sequence", ErrMalformed)
		}
		return &delivery.Ack{SessionID: session, Seq: f.ack}, nil
	case FlagGoodbye:
		return &delivery.Goodbye{SessionID: session}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind flag %#x", ErrMalformed, f.kind)
	}
}
