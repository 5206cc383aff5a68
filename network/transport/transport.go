// Package transport moves length-prefixed frames over stream connections.
// A Transport is what the layers above write to; a Listener is told about
// connection changes and incoming frames.
package transport

import "errors"

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrSendBusy       = errors.New("transport: send channel full")
	ErrFrameTooLarge  = errors.New("transport: frame too large")
	ErrClosed         = errors.New("transport: closed")
	ErrInvalidConnCfg = errors.New("transport: invalid conn config")
)

// Transport carries frames to one peer.
type Transport interface {
	// Send queues frame for writing. It never blocks; the frame is copied.
	Send(frame []byte) error
	IsConnected() bool
	// Drop closes the current connection. A dialer redials afterwards.
	Drop()
	// Close shuts the transport down for good.
	Close() error
}

// Listener receives transport events. Callbacks may run on different
// goroutines and must not block for long.
type Listener interface {
	OnTransportConnected(t Transport)
	// OnTransportDisconnected reports a lost connection that may come back.
	OnTransportDisconnected(t Transport)
	// OnTransportClosed reports that t was closed locally.
	OnTransportClosed(t Transport)
	// OnRecvFrame hands over one frame body. frame is owned by the callee.
	OnRecvFrame(t Transport, frame []byte)
}

// Endpoint is a configured dialer or server waiting for its listener.
type Endpoint interface {
	Start(l Listener) error
	Close() error
}
