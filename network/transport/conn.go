package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/oncelink/log"
)

// ConnTransport runs one net.Conn with a dedicated read loop and write loop.
// Writes go through a buffered channel so Send never blocks the caller.
type ConnTransport struct {
	kind     string
	conn     net.Conn
	cfg      *ConnCfg
	listener Listener

	sendCh      chan *[]byte
	closing     chan struct{}
	closingOnce sync.Once
	done        chan struct{}
	finished    chan struct{}
	closeOnce   sync.Once
	connected   atomic.Bool
	serving     atomic.Bool
}

// _closeFlushTimeout bounds how long Close waits for queued frames.
const _closeFlushTimeout = time.Second

// NewConnTransport wraps conn. kind names the transport in logs and metrics.
func NewConnTransport(kind string, conn net.Conn, cfg *ConnCfg, l Listener) *ConnTransport {
	return &ConnTransport{
		kind:     kind,
		conn:     conn,
		cfg:      cfg,
		listener: l,
		sendCh:   make(chan *[]byte, cfg.SendChanSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Serve reports the connection to the listener and starts both loops.
func (c *ConnTransport) Serve() {
	c.connected.Store(true)
	log.Info().Str("transport", c.kind).Str("remote", c.RemoteAddr()).Msg("connection established")
	c.listener.OnTransportConnected(c)
	c.serving.Store(true)
	go c.serveSend()
	go c.serveRecv()
}

// Send implements Transport.
func (c *ConnTransport) Send(frame []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if len(frame) > c.cfg.MaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), c.cfg.MaxFrameSize)
	}

	buf := packFrame(frame, 0)
	select {
	case c.sendCh <- buf:
		return nil
	default:
		_framePool.Put(buf)
		statSendBusy(c.kind)
		log.Warn().Str("transport", c.kind).Str("remote", c.RemoteAddr()).Msg("send channel is full")
		return ErrSendBusy
	}
}

// IsConnected implements Transport.
func (c *ConnTransport) IsConnected() bool {
	return c.connected.Load()
}

// Drop closes the connection and reports it as disconnected.
func (c *ConnTransport) Drop() {
	c.shutdown(false)
}

// Close stops accepting frames, writes what is already queued and then
// closes the connection, reporting it as closed. It may be called from the
// listener.
func (c *ConnTransport) Close() error {
	select {
	case <-c.done:
		// already shut down, or Close is called from the shutdown callback
		return nil
	default:
	}
	c.closingOnce.Do(func() {
		c.connected.Store(false)
		close(c.closing)
	})
	if !c.serving.Load() {
		c.shutdown(true)
		return nil
	}

	timer := time.NewTimer(_closeFlushTimeout)
	defer timer.Stop()
	select {
	case <-c.finished:
	case <-timer.C:
		c.shutdown(true)
	}
	return nil
}

// RemoteAddr is the peer address, for logs.
func (c *ConnTransport) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *ConnTransport) shutdown(closed bool) {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)
		_ = c.conn.Close()
		log.Info().Str("transport", c.kind).Str("remote", c.RemoteAddr()).Bool("closed", closed).Msg("connection shut down")
		if closed {
			c.listener.OnTransportClosed(c)
		} else {
			c.listener.OnTransportDisconnected(c)
		}
		close(c.finished)
	})
}

func (c *ConnTransport) serveRecv() {
	defer c.shutdown(false)

	head := make([]byte, PreHeadSize)
	for {
		if err := c.setReadDeadline(); err != nil {
			c.logIOErr("set read deadline", err)
			return
		}
		if _, err := io.ReadFull(c.conn, head); err != nil {
			c.logIOErr("read pre head", err)
			return
		}
		h, err := DecodePreHead(head, c.cfg.MaxFrameSize)
		if err != nil {
			log.Error().Err(err).Str("transport", c.kind).Str("remote", c.RemoteAddr()).Msg("bad pre head")
			return
		}

		if h.Flags&FlagHeartbeat != 0 {
			if _, err := io.CopyN(io.Discard, c.conn, int64(h.BodySize)); err != nil {
				c.logIOErr("read heartbeat", err)
				return
			}
			continue
		}

		body := make([]byte, h.BodySize)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			c.logIOErr("read body", err)
			return
		}
		statRecvFrame(c.kind)
		c.listener.OnRecvFrame(c, body)
	}
}

func (c *ConnTransport) serveSend() {
	defer c.shutdown(false)

	var tick <-chan time.Time
	interval := c.cfg.IdleTimeout / 3
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	lastWrite := time.Now()
	for {
		select {
		case <-c.done:
			return
		case <-c.closing:
			c.drain()
			c.shutdown(true)
			return
		case buf := <-c.sendCh:
			err := c.write(*buf)
			statSendFrame(c.kind, len(*buf)-PreHeadSize)
			_framePool.Put(buf)
			if err != nil {
				c.logIOErr("write frame", err)
				return
			}
			lastWrite = time.Now()
		case now := <-tick:
			if now.Sub(lastWrite) < interval {
				continue
			}
			hb := make([]byte, PreHeadSize)
			PreHead{Flags: FlagHeartbeat}.Encode(hb)
			if err := c.write(hb); err != nil {
				c.logIOErr("write heartbeat", err)
				return
			}
			lastWrite = now
		}
	}
}

func (c *ConnTransport) drain() {
	for {
		select {
		case buf := <-c.sendCh:
			err := c.write(*buf)
			statSendFrame(c.kind, len(*buf)-PreHeadSize)
			_framePool.Put(buf)
			if err != nil {
				c.logIOErr("flush frame", err)
				return
			}
		default:
			return
		}
	}
}

func (c *ConnTransport) write(b []byte) error {
	if c.cfg.IdleTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.IdleTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *ConnTransport) setReadDeadline() error {
	if c.cfg.IdleTimeout > 0 {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
	}
	return nil
}

// logIOErr keeps expected shutdown errors out of the error log.
func (c *ConnTransport) logIOErr(op string, err error) {
	select {
	case <-c.done:
		return
	default:
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		log.Info().Str("transport", c.kind).Str("remote", c.RemoteAddr()).Str("op", op).Msg("connection closed by peer")
		return
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		log.Warn().Str("transport", c.kind).Str("remote", c.RemoteAddr()).Str("op", op).Msg("connection idle timeout")
		return
	}
	log.Error().Err(err).Str("transport", c.kind).Str("remote", c.RemoteAddr()).Str("op", op).Msg("connection io failed")
}
