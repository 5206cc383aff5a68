package link

import (
	"time"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/event"
	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/metrics"
	"github.com/linchenxuan/oncelink/network/transport"
)

// OnTransportConnected adopts t and starts a handshake on it.
func (l *Link) OnTransportConnected(t transport.Transport) {
	if l.closed.Load() {
		if l.role == RoleServer {
			t.Drop()
		}
		return
	}

	var n notes
	l.mu.Lock()
	old := l.swapTransport(t)
	retire := false
	if !l.protocol.IsPaused() {
		// the previous transport went away without telling us
		log.Warn().Str("role", l.role.String()).Msg("transport connected while the session is live")
		retire = l.transportLostLocked(&n)
	}

	l.handshakeMode = true
	l.handshakeSent = time.Now()
	l.armHandshakeTimerLocked()
	if l.role == RoleClient {
		hs := l.protocol.NewHandshake()
		if !l.SendMessage(hs) {
			log.Warn().Str("session", hs.Session().String()).Msg("handshake not sent")
		}
	}
	l.mu.Unlock()

	n.run()
	if old != nil && old != t && old.IsConnected() {
		old.Drop()
	}
	if retire {
		_ = l.Close()
	}
}

// OnTransportDisconnected suspends the session. With reconnect enabled a
// connected channel is kept until the restore timer fires.
func (l *Link) OnTransportDisconnected(t transport.Transport) {
	if l.closed.Load() {
		return
	}

	var n notes
	l.mu.Lock()
	if !l.isCurrent(t) {
		l.mu.Unlock()
		return
	}
	retire := l.transportLostLocked(&n)
	l.mu.Unlock()

	n.run()
	if retire {
		_ = l.Close()
	}
}

// OnTransportClosed closes the link when its transport is closed.
func (l *Link) OnTransportClosed(t transport.Transport) {
	if l.closed.Load() || !l.isCurrent(t) {
		return
	}
	_ = l.Close()
}

func (l *Link) transportLostLocked(n *notes) bool {
	l.protocol.Suspend()
	l.handshakeMode = false
	l.stopHandshakeTimerLocked()

	if l.channelConnected && l.established && l.cfg.Enabled {
		if l.restoreTimer == nil {
			log.Info().Str("role", l.role.String()).Str("session", l.protocol.SessionID().String()).
				Dur("timeout", l.cfg.ReconnectTimeout).Msg("transport lost, waiting for restore")
			l.armRestoreTimerLocked()
		}
		return false
	}

	if l.channelConnected || l.established {
		l.protocol.Reset()
		l.established = false
		l.sessionLostLocked(n, false, event.LinkDisconnected, nil)
	}
	return l.retire
}

func (l *Link) armHandshakeTimerLocked() {
	l.stopHandshakeTimerLocked()
	l.handshakeGen++
	gen := l.handshakeGen
	l.handshakeTimer = time.AfterFunc(l.cfg.HandshakeTimeout, func() { l.handshakeExpired(gen) })
}

func (l *Link) stopHandshakeTimerLocked() {
	if l.handshakeTimer != nil {
		l.handshakeTimer.Stop()
		l.handshakeTimer = nil
	}
}

func (l *Link) handshakeExpired(gen uint64) {
	var n notes
	l.mu.Lock()
	if l.closed.Load() || l.handshakeTimer == nil || l.handshakeGen != gen || !l.handshakeMode {
		l.mu.Unlock()
		return
	}
	l.handshakeTimer = nil
	log.Warn().Str("role", l.role.String()).Dur("timeout", l.cfg.HandshakeTimeout).Msg("handshake timed out")
	l.publishLater(&n, event.LinkHandshakeFailed, false, nil)
	t := l.currentTransport()
	l.mu.Unlock()

	n.run()
	if t != nil {
		t.Drop()
	}
}

func (l *Link) armRestoreTimerLocked() {
	l.restoreGen++
	gen := l.restoreGen
	l.restoreTimer = time.AfterFunc(l.cfg.ReconnectTimeout, func() { l.restoreExpired(gen) })
}

func (l *Link) stopRestoreTimerLocked() {
	if l.restoreTimer != nil {
		l.restoreTimer.Stop()
		l.restoreTimer = nil
	}
}

// restoreExpired gives up on the session: the transport did not come back,
// or came back without completing a handshake, in time.
func (l *Link) restoreExpired(gen uint64) {
	var n notes
	l.mu.Lock()
	if l.closed.Load() || l.restoreTimer == nil || l.restoreGen != gen {
		l.mu.Unlock()
		return
	}
	l.restoreTimer = nil
	metrics.IncrCounterWithDimGroup(metrics.NameLinkRestoreFailedTotal, metrics.GroupOncelink, 1,
		metrics.Dimension{metrics.DimRole: l.role.String()})
	log.Warn().Str("role", l.role.String()).Str("session", l.protocol.SessionID().String()).Msg("link restore failed")

	inHandshake := l.handshakeMode
	l.protocol.Suspend()
	l.protocol.Reset()
	l.established = false
	l.sessionLostLocked(&n, false, event.LinkRestoreFailed, nil)
	t := l.currentTransport()
	retire := l.retire
	l.mu.Unlock()

	n.run()
	if retire {
		_ = l.Close()
		return
	}
	if inHandshake && t != nil {
		t.Drop()
	}
}

// Close ends the link. A client with a live session says goodbye first, so the
// server does not wait for it to come back. The transport is closed.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	var n notes
	l.mu.Lock()
	t := l.currentTransport()
	if l.role == RoleClient && l.established && l.channelConnected && !l.handshakeMode && t != nil && t.IsConnected() {
		l.SendMessage(&delivery.Goodbye{SessionID: l.protocol.SessionID()})
	}
	l.stopHandshakeTimerLocked()
	l.stopRestoreTimerLocked()
	close(l.stopAck)

	l.handshakeMode = false
	l.established = false
	l.sessionLostLocked(&n, false, event.LinkDisconnected, nil)
	l.publishLater(&n, event.LinkClosed, false, nil)
	l.protocol.Suspend()
	l.protocol.Reset()
	l.mu.Unlock()

	var err error
	if t != nil {
		err = t.Close()
	}
	n.run()
	l.channel.OnClosed()
	for _, fn := range l.onClose {
		fn(l)
	}
	log.Info().Str("role", l.role.String()).Msg("link closed")
	return err
}
