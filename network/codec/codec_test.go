package codec

import (
	"testing"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

var session = delivery.NewSessionID()

func TestEncodeDecodeEveryKind(t *testing.T) {
	msgs := []delivery.ProtocolMessage{
		&delivery.Handshake{SessionID: session, Ack: -1},
		&delivery.HandshakeReplyOk{SessionID: session, Ack: 41},
		&delivery.HandshakeReplyFail{SessionID: session},
		&delivery.Send{SessionID: session, Seq: 7, Payload: []byte("hello")},
		&delivery.Ack{SessionID: session, Seq: 15},
		&delivery.Goodbye{SessionID: session},
	}
	for _, m := range msgs {
		t.Run(m.Kind().String(), func(t *testing.T) {
			b, err := Encode(m, nil)
			require.NoError(t, err)
			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestEncodeAppends(t *testing.T) {
	prefix := []byte{0xff, 0xee}
	b, err := Encode(&delivery.Goodbye{SessionID: session}, prefix)
	require.NoError(t, err)
	assert.Equal(t, prefix, b[:2])

	got, err := Decode(b[2:])
	require.NoError(t, err)
	assert.Equal(t, delivery.KindGoodbye, got.Kind())
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	b, err := Encode(&delivery.Ack{SessionID: session, Seq: 3}, nil)
	require.NoError(t, err)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.AckSeq())
}

func TestDecodeRejectsMalformed(t *testing.T) {
	withKind := func(flag uint32) []byte {
		b := protowire.AppendTag(nil, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(flag))
		b = protowire.AppendTag(b, fieldSession, protowire.BytesType)
		return protowire.AppendBytes(b, session[:])
	}

	cases := map[string][]byte{
		"empty":          nil,
		"truncated":      {0x08},
		"two flags":      withKind(FlagSend | FlagAck),
		"unknown flag":   withKind(1 << 9),
		"send no seq":    withKind(FlagSend),
		"ack no seq":     withKind(FlagAck),
		"handshake only": withKind(FlagHandshake),
		"short session": protowire.AppendBytes(
			protowire.AppendTag(protowire.AppendVarint(protowire.AppendTag(nil, fieldKind, protowire.VarintType), uint64(FlagGoodbye)),
				fieldSession, protowire.BytesType), []byte{1, 2, 3}),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(b)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncodeRejectsNil(t *testing.T) {
	_, err := Encode(nil, nil)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

// countingCodec wraps the wire codec and counts what passes through it.
type countingCodec struct {
	WireCodec
	encoded, decoded int
}

func (c *countingCodec) Encode(m delivery.ProtocolMessage, b []byte) ([]byte, error) {
	c.encoded++
	return c.WireCodec.Encode(m, b)
}

func (c *countingCodec) Decode(b []byte) (delivery.ProtocolMessage, error) {
	c.decoded++
	return c.WireCodec.Decode(b)
}

func TestSetCodec(t *testing.T) {
	c := &countingCodec{}
	prev := SetCodec(c)
	defer SetCodec(prev)
	assert.IsType(t, WireCodec{}, prev)

	m := &delivery.Ack{SessionID: session, Seq: 3}
	b, err := Encode(m, nil)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, 1, c.encoded)
	assert.Equal(t, 1, c.decoded)

	assert.Same(t, c, SetCodec(nil))
	_, err = Encode(m, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c.encoded, "nil restores the wire codec")
}

