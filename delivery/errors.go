package delivery

import "errors"

var (
	// ErrNotStarted is returned when the protocol is used before Start.
	ErrNotStarted = errors.New("delivery: protocol not started")
	// ErrSequenceGap is returned when a send arrives ahead of the expected sequence.
	// The session can not continue and must be reset.
	ErrSequenceGap = errors.New("delivery: sequence gap")
	// ErrAckOutOfRange is returned when an ack covers sequences that were never sent.
	ErrAckOutOfRange = errors.New("delivery: ack beyond highest sent")
	// ErrHandshakeRegressed is returned when a handshake reply acknowledges less
	// than the peer already acknowledged, meaning the peer lost its state.
	ErrHandshakeRegressed = errors.New("delivery: handshake ack regressed")
	// ErrTransmitFailed is returned when the port refused a message.
	ErrTransmitFailed = errors.New("delivery: transmit failed")
	// ErrSendQueueFull is returned when the pending queue reached its capacity.
	ErrSendQueueFull = errors.New("delivery: send queue full")
	// ErrUnexpectedMessage is returned for messages the protocol does not handle.
	ErrUnexpectedMessage = errors.New("delivery: unexpected message")
	// ErrSessionInUse is returned by Adopt when the current session already
	// carries traffic.
	ErrSessionInUse = errors.New("delivery: session already in use")
	// ErrInvalidConfig is returned by ReconnectConfig.Validate.
	ErrInvalidConfig = errors.New("delivery: invalid config")
)

// IsFatal reports whether err ends the current session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSequenceGap) || errors.Is(err, ErrAckOutOfRange)
}
