package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/linchenxuan/oncelink/log"
)

// ListenFunc opens a listener on addr.
type ListenFunc func(addr string) (net.Listener, error)

// Server accepts connections and hands each one, as a ConnTransport, to its
// listener.
type Server struct {
	kind   string
	cfg    *ConnCfg
	listen ListenFunc

	mu       sync.Mutex
	listener Listener
	ln       net.Listener
	conns    map[*ConnTransport]struct{}
	closed   bool
}

// NewServer creates a server. Nothing is bound before Start.
func NewServer(kind string, cfg *ConnCfg, listen ListenFunc) *Server {
	return &Server{
		kind:   kind,
		cfg:    cfg,
		listen: listen,
		conns:  make(map[*ConnTransport]struct{}),
	}
}

// Start binds the address and starts accepting.
func (s *Server) Start(l Listener) error {
	ln, err := s.listen(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%s listen on %s: %w", s.kind, s.cfg.Addr, err)
	}

	s.mu.Lock()
	if s.closed || s.ln != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("transport: server closed or already started")
	}
	s.ln = ln
	s.listener = l
	s.mu.Unlock()

	log.Info().Str("transport", s.kind).Str("addr", ln.Addr().String()).Msg("server listening")
	go s.serve(ln)
	return nil
}

// Addr is the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Error().Err(err).Str("transport", s.kind).Msg("accept failed")
			return
		}

		ct := NewConnTransport(s.kind, conn, s.cfg, serverHook{s})
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[ct] = struct{}{}
		s.mu.Unlock()

		ct.Serve()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ConnCount is the number of live connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting and closes every connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	conns := make([]*ConnTransport, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	return err
}

func (s *Server) forget(t Transport) {
	if c, ok := t.(*ConnTransport); ok {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}
}

type serverHook struct {
	s *Server
}

func (h serverHook) OnTransportConnected(t Transport) {
	h.s.listener.OnTransportConnected(t)
}

func (h serverHook) OnTransportDisconnected(t Transport) {
	h.s.forget(t)
	h.s.listener.OnTransportDisconnected(t)
}

func (h serverHook) OnTransportClosed(t Transport) {
	h.s.forget(t)
	h.s.listener.OnTransportClosed(t)
}

func (h serverHook) OnRecvFrame(t Transport, frame []byte) {
	h.s.listener.OnRecvFrame(t, frame)
}
