package delivery

// Kind identifies the role of a ProtocolMessage.
type Kind uint8

const (
	KindHandshake Kind = iota + 1
	KindHandshakeReplyOk
	KindHandshakeReplyFail
	KindSend
	KindAck
	KindGoodbye
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindHandshakeReplyOk:
		return "handshake_reply_ok"
	case KindHandshakeReplyFail:
		return "handshake_reply_fail"
	case KindSend:
		return "send"
	case KindAck:
		return "ack"
	case KindGoodbye:
		return "goodbye"
	default:
		return "unknown"
	}
}

// ProtocolMessage is one record exchanged between two delivery endpoints.
// The concrete types are *Handshake, *HandshakeReplyOk, *HandshakeReplyFail,
// *Send, *Ack and *Goodbye.
type ProtocolMessage interface {
	Kind() Kind
	Session() SessionID
	// SentSeq is the sequence carried by a send, -1 otherwise.
	SentSeq() int64
	// AckSeq is the cumulative ack carried by the message, -1 if none.
	AckSeq() int64

	sealed()
}

// Handshake opens or resumes a session. Ack is the sender's receive watermark.
type Handshake struct {
	SessionID SessionID
	Ack       int64
}

// HandshakeReplyOk accepts a handshake. Ack is the replier's receive watermark.
type HandshakeReplyOk struct {
	SessionID SessionID
	Ack       int64
}

// HandshakeReplyFail rejects a handshake; SessionID is the session the
// replier reset to.
type HandshakeReplyFail struct {
	SessionID SessionID
}

// Send carries one application payload.
type Send struct {
	SessionID SessionID
	Seq       int64
	Payload   []byte
}

// Ack acknowledges every sequence up to and including Seq.
type Ack struct {
	SessionID SessionID
	Seq       int64
}

// Goodbye announces an orderly close of the session.
type Goodbye struct {
	SessionID SessionID
}

func (m *Handshake) Kind() Kind         { return KindHandshake }
func (m *Handshake) Session() SessionID { return m.SessionID }
func (m *Handshake) SentSeq() int64     { return -1 }
func (m *Handshake) AckSeq() int64      { return m.Ack }
func (m *Handshake) sealed()            {}

func (m *HandshakeReplyOk) Kind() Kind         { return KindHandshakeReplyOk }
func (m *HandshakeReplyOk) Session() SessionID { return m.SessionID }
func (m *HandshakeReplyOk) SentSeq() int64     { return -1 }
func (m *HandshakeReplyOk) AckSeq() int64      { return m.Ack }
func (m *HandshakeReplyOk) sealed()            {}

func (m *HandshakeReplyFail) Kind() Kind         { return KindHandshakeReplyFail }
func (m *HandshakeReplyFail) Session() SessionID { return m.SessionID }
func (m *HandshakeReplyFail) SentSeq() int64     { return -1 }
func (m *HandshakeReplyFail) AckSeq() int64      { return -1 }
func (m *HandshakeReplyFail) sealed()            {}

func (m *Send) Kind() Kind         { return KindSend }
func (m *Send) Session() SessionID { return m.SessionID }
func (m *Send) SentSeq() int64     { return m.Seq }
func (m *Send) AckSeq() int64      { return -1 }
func (m *Send) sealed()            {}

func (m *Ack) Kind() Kind         { return KindAck }
func (m *Ack) Session() SessionID { return m.SessionID }
func (m *Ack) SentSeq() int64     { return -1 }
func (m *Ack) AckSeq() int64      { return m.Seq }
func (m *Ack) sealed()            {}

func (m *Goodbye) Kind() Kind         { return KindGoodbye }
func (m *Goodbye) Session() SessionID { return m.SessionID }
func (m *Goodbye) SentSeq() int64     { return -1 }
func (m *Goodbye) AckSeq() int64      { return -1 }
func (m *Goodbye) sealed()            {}
