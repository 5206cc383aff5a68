package transport

import (
	"errors"
	"sync"
)

const _pipeInboxSize = 4096

// Pipe is an in-memory connection between two PipeEnds. Frames are delivered
// asynchronously and in order. Connect and Disconnect move the pipe between
// connection epochs; frames sent in an earlier epoch are lost. Closing an end
// is graceful: frames it sent before are still delivered to the peer, which
// then sees the disconnect.
type Pipe struct {
	mu         sync.Mutex
	epoch      uint64
	flushEpoch uint64
	connected  bool
	ends       [2]*PipeEnd
}

// PipeEnd is one side of a Pipe.
type PipeEnd struct {
	p        *Pipe
	idx      int
	listener Listener
	inbox    chan pipeFrame
	done     chan struct{}
	closed   bool
}

type pipeFrame struct {
	epoch uint64
	frame []byte
	// hangup reports the disconnect after the frames sent before it.
	hangup bool
}

var _ Transport = (*PipeEnd)(nil)

// NewPipe creates a disconnected pipe.
func NewPipe() *Pipe {
	p := &Pipe{}
	for i := range p.ends {
		p.ends[i] = &PipeEnd{
			p:     p,
			idx:   i,
			inbox: make(chan pipeFrame, _pipeInboxSize),
			done:  make(chan struct{}),
		}
	}
	return p
}

// Client is the dialing side.
func (p *Pipe) Client() *PipeEnd { return p.ends[0] }

// Server is the accepting side.
func (p *Pipe) Server() *PipeEnd { return p.ends[1] }

// Connect starts a new epoch and reports the connection to both ends, server
// first. Both ends must be started.
func (p *Pipe) Connect() error {
	p.mu.Lock()
	for _, e := range p.ends {
		if e.closed {
			p.mu.Unlock()
			return ErrClosed
		}
		if e.listener == nil {
			p.mu.Unlock()
			return errors.New("transport: pipe end not started")
		}
	}
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = true
	p.epoch++
	p.mu.Unlock()

	p.Server().listener.OnTransportConnected(p.Server())
	p.Client().listener.OnTransportConnected(p.Client())
	return nil
}

// Disconnect ends the epoch and reports the loss to both ends.
func (p *Pipe) Disconnect() {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = false
	p.epoch++
	p.mu.Unlock()

	p.Client().listener.OnTransportDisconnected(p.Client())
	p.Server().listener.OnTransportDisconnected(p.Server())
}

func (e *PipeEnd) peer() *PipeEnd {
	return e.p.ends[1-e.idx]
}

// Start sets the listener and starts delivering frames to it.
func (e *PipeEnd) Start(l Listener) error {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.listener != nil {
		return errors.New("transport: pipe end already started")
	}
	e.listener = l
	go e.deliver()
	return nil
}

func (e *PipeEnd) deliver() {
	for {
		select {
		case <-e.done:
			return
		case f := <-e.inbox:
			if f.hangup {
				e.listener.OnTransportDisconnected(e)
				continue
			}
			e.p.mu.Lock()
			live := (e.p.connected && f.epoch == e.p.epoch) || (e.p.flushEpoch != 0 && f.epoch == e.p.flushEpoch)
			e.p.mu.Unlock()
			if !live {
				continue
			}
			statRecvFrame("pipe")
			e.listener.OnRecvFrame(e, f.frame)
		}
	}
}

// Send implements Transport.
func (e *PipeEnd) Send(frame []byte) error {
	e.p.mu.Lock()
	if !e.p.connected {
		e.p.mu.Unlock()
		return ErrNotConnected
	}
	epoch := e.p.epoch
	e.p.mu.Unlock()

	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case e.peer().inbox <- pipeFrame{epoch: epoch, frame: cp}:
		statSendFrame("pipe", len(frame))
		return nil
	default:
		statSendBusy("pipe")
		return ErrSendBusy
	}
}

// IsConnected implements Transport.
func (e *PipeEnd) IsConnected() bool {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	return e.p.connected
}

// Drop disconnects the whole pipe.
func (e *PipeEnd) Drop() {
	e.p.Disconnect()
}

// Close closes this end. The peer receives the frames already sent and then
// sees a disconnect.
func (e *PipeEnd) Close() error {
	e.p.mu.Lock()
	if e.closed {
		e.p.mu.Unlock()
		return nil
	}
	e.closed = true
	wasConnected := e.p.connected
	if wasConnected {
		e.p.flushEpoch = e.p.epoch
	}
	e.p.connected = false
	e.p.epoch++
	started := e.listener != nil
	e.p.mu.Unlock()

	close(e.done)
	if started {
		e.listener.OnTransportClosed(e)
	}
	if peer := e.peer(); wasConnected && peer.listener != nil {
		select {
		case peer.inbox <- pipeFrame{hangup: true}:
		default:
			peer.listener.OnTransportDisconnected(peer)
		}
	}
	return nil
}
