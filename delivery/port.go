package delivery

// DeliveryPort is the transport side of a GuaranteedDeliveryProtocol.
// It builds protocol messages for the current session, transmits them and
// hands accepted payloads to the application.
//
// The protocol calls SendMessage while holding its lock, so SendMessage must
// not block on the protocol. ReceiveMessage is called outside that lock and
// may call back into Send.
type DeliveryPort interface {
	CreateHandshakeMessage(lastAck int64) ProtocolMessage
	CreateHandshakeReplyOkMessage(lastAck int64) ProtocolMessage
	CreateAckMessage(seq int64) ProtocolMessage
	CreateProtocolMessage(seq int64, payload []byte) ProtocolMessage
	SendMessage(msg ProtocolMessage) bool
	ReceiveMessage(msg *Send)
}
