package link

import (
	"errors"
	"time"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/event"
	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/metrics"
	"github.com/linchenxuan/oncelink/network/transport"
)

// OnRecvMessage routes one decoded message of t.
func (l *Link) OnRecvMessage(t transport.Transport, msg delivery.ProtocolMessage) {
	if l.closed.Load() {
		return
	}

	switch m := msg.(type) {
	case *delivery.Handshake:
		if l.role != RoleServer {
			l.unexpected(msg)
			return
		}
		l.onHandshake(t, m)
	case *delivery.HandshakeReplyOk:
		if l.role != RoleClient {
			l.unexpected(msg)
			return
		}
		l.onReplyOk(t, m)
	case *delivery.HandshakeReplyFail:
		if l.role != RoleClient {
			l.unexpected(msg)
			return
		}
		l.onReplyFail(t, m)
	case *delivery.Send, *delivery.Ack:
		l.onData(t, msg)
	case *delivery.Goodbye:
		l.onGoodbye(t, m)
	default:
		l.unexpected(msg)
	}
}

func (l *Link) unexpected(msg delivery.ProtocolMessage) {
	log.Warn().Str("role", l.role.String()).Str("kind", msg.Kind().String()).Msg("link drops unexpected message")
}

// onHandshake decides between resuming the session the client names and
// starting a new one. The session resumes when it is the current one and the
// client's watermark lies inside what was sent and not yet acknowledged; a
// link that never completed a handshake adopts a client that starts from
// scratch. Anything else gets a reply fail carrying a fresh session.
func (l *Link) onHandshake(t transport.Transport, hs *delivery.Handshake) {
	var n notes
	defer func() { n.run() }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isCurrent(t) {
		log.Warn().Str("session", hs.SessionID.String()).Msg("handshake on a stale transport")
		return
	}
	// a second handshake on the same connection restarts it
	l.protocol.Suspend()

	st := l.protocol.Stats()
	resumable := !hs.SessionID.IsNil() && ((l.established && hs.SessionID == st.Session &&
		st.HighestAcked <= hs.Ack && hs.Ack <= st.HighestSent) || (!l.established && hs.Ack == -1))
	if resumable && !l.established {
		if err := l.protocol.Adopt(hs.SessionID); err != nil {
			log.Warn().Err(err).Str("peer", hs.SessionID.String()).Msg("can not adopt peer session")
			resumable = false
		}
	}

	if resumable {
		if err := l.protocol.Receive(hs); err != nil {
			log.Warn().Err(err).Str("session", hs.SessionID.String()).Msg("handshake reply not sent")
			return
		}
		if err := l.protocol.Resume(); err != nil {
			log.Debug().Err(err).Msg("resume before handshake reply")
		}
		if err := l.protocol.Receive(&delivery.HandshakeReplyOk{SessionID: hs.SessionID, Ack: hs.Ack}); err != nil {
			log.Warn().Err(err).Str("session", hs.SessionID.String()).Int64("ack", hs.Ack).Msg("resend after handshake failed")
		}
		log.Info().Str("session", hs.SessionID.String()).Int64("ack", hs.Ack).Bool("established", l.established).
			Msg("link session resumed")
	} else {
		l.protocol.Reset()
		l.established = false
		l.sessionLostLocked(&n, true, event.LinkSessionReset, nil)
		session := l.protocol.SessionID()
		if !l.SendMessage(&delivery.HandshakeReplyFail{SessionID: session}) {
			log.Warn().Str("session", session.String()).Msg("handshake reply fail not sent")
			return
		}
		if err := l.protocol.Resume(); err != nil {
			log.Debug().Err(err).Msg("resume after session reset")
		}
		if err := l.protocol.Receive(&delivery.HandshakeReplyOk{SessionID: session, Ack: -1}); err != nil {
			log.Warn().Err(err).Str("session", session.String()).Msg("open new session")
		}
		log.Info().Str("peer", hs.SessionID.String()).Int64("ack", hs.Ack).Str("session", session.String()).
			Int64("highestAcked", st.HighestAcked).Int64("highestSent", st.HighestSent).
			Msg("link handshake rejected, new session")
	}

	l.established = true
	l.completeHandshakeLocked(&n)
}

func (l *Link) onReplyOk(t transport.Transport, m *delivery.HandshakeReplyOk) {
	var n notes
	defer func() { n.run() }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isCurrent(t) || !l.handshakeMode {
		log.Debug().Str("session", m.SessionID.String()).Msg("drop handshake reply outside handshake")
		return
	}
	if m.SessionID != l.protocol.SessionID() {
		log.Debug().Str("session", m.SessionID.String()).Str("current", l.protocol.SessionID().String()).
			Msg("drop handshake reply of another session")
		return
	}

	err := l.protocol.Receive(m)
	switch {
	case errors.Is(err, delivery.ErrHandshakeRegressed) || errors.Is(err, delivery.ErrAckOutOfRange):
		// the server kept the session but not what we know it received
		log.Warn().Err(err).Str("session", m.SessionID.String()).Msg("handshake reply inconsistent, starting new session")
		l.protocol.Reset()
		l.established = false
		l.sessionLostLocked(&n, true, event.LinkSessionReset, err)
		l.handshakeSent = time.Now()
		l.SendMessage(l.protocol.NewHandshake())
		return
	case err != nil:
		log.Warn().Err(err).Str("session", m.SessionID.String()).Msg("handshake reply")
	}

	if err := l.protocol.Resume(); err != nil {
		log.Debug().Err(err).Msg("resume after handshake reply")
	}
	l.established = true
	l.completeHandshakeLocked(&n)
}

func (l *Link) onReplyFail(t transport.Transport, m *delivery.HandshakeReplyFail) {
	var n notes
	defer func() { n.run() }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isCurrent(t) || !l.handshakeMode {
		log.Debug().Str("session", m.SessionID.String()).Msg("drop handshake reply fail outside handshake")
		return
	}

	old := l.protocol.SessionID()
	l.protocol.Reset()
	l.established = false
	l.sessionLostLocked(&n, true, event.LinkSessionReset, nil)
	if err := l.protocol.Adopt(m.SessionID); err != nil {
		log.Warn().Err(err).Str("session", m.SessionID.String()).Msg("adopt server session")
		return
	}
	if err := l.protocol.Receive(&delivery.HandshakeReplyOk{SessionID: m.SessionID, Ack: -1}); err != nil {
		log.Warn().Err(err).Str("session", m.SessionID.String()).Msg("adopt server session")
	}
	if err := l.protocol.Resume(); err != nil {
		log.Debug().Err(err).Msg("resume after handshake reply fail")
	}
	log.Info().Str("old", old.String()).Str("session", m.SessionID.String()).Msg("server started a new session")

	l.established = true
	l.completeHandshakeLocked(&n)
}

// completeHandshakeLocked leaves handshake mode and connects the channel.
func (l *Link) completeHandshakeLocked(n *notes) {
	l.handshakeMode = false
	l.stopHandshakeTimerLocked()
	l.stopRestoreTimerLocked()

	dims := metrics.Dimension{metrics.DimRole: l.role.String()}
	metrics.IncrCounterWithDimGroup(metrics.NameLinkHandshakeTotal, metrics.GroupOncelink, 1, dims)
	if !l.handshakeSent.IsZero() {
		metrics.UpdateAvgGaugeWithDimGroup(metrics.NameLinkHandshakeMS, metrics.GroupOncelink,
			metrics.Value(time.Since(l.handshakeSent).Milliseconds()), dims)
	}

	if l.channelConnected {
		return
	}
	l.channelConnected = true
	n.add(l.channel.OnConnected)
	l.publishLater(n, event.LinkConnected, false, nil)
}

// sessionLostLocked tells a connected channel that its session is gone.
func (l *Link) sessionLostLocked(n *notes, forced bool, topic string, err error) {
	if !l.channelConnected {
		return
	}
	l.channelConnected = false
	n.add(func() { l.channel.OnDisconnected(forced) })
	l.publishLater(n, topic, forced, err)
}

func (l *Link) onData(t transport.Transport, msg delivery.ProtocolMessage) {
	l.mu.Lock()
	live := l.isCurrent(t) && !l.handshakeMode && l.channelConnected
	l.mu.Unlock()
	if !live {
		log.Debug().Str("role", l.role.String()).Str("kind", msg.Kind().String()).Msg("drop message while not connected")
		return
	}

	// no link lock here: the channel may call back into the link
	err := l.protocol.Receive(msg)
	switch {
	case delivery.IsFatal(err):
		l.fatal(err)
	case err != nil:
		log.Debug().Err(err).Str("role", l.role.String()).Str("kind", msg.Kind().String()).Msg("link receive")
	}
}

// fatal handles a peer that broke the sequence contract. The session is
// dropped and the transport with it; the next handshake opens a new session.
func (l *Link) fatal(err error) {
	reason := "ack_out_of_range"
	if errors.Is(err, delivery.ErrSequenceGap) {
		reason = "sequence_gap"
	}
	metrics.IncrCounterWithDimGroup(metrics.NameLinkFatalTotal, metrics.GroupOncelink, 1,
		metrics.Dimension{metrics.DimRole: l.role.String(), metrics.DimReason: reason})
	log.Error().Err(err).Str("role", l.role.String()).Str("session", l.protocol.SessionID().String()).
		Msg("link session broken")

	var n notes
	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return
	}
	if l.retire {
		l.sessionLostLocked(&n, true, event.LinkSessionReset, err)
		l.mu.Unlock()
		n.run()
		_ = l.Close()
		return
	}
	l.protocol.Suspend()
	l.protocol.Reset()
	l.established = false
	l.sessionLostLocked(&n, true, event.LinkSessionReset, err)
	t := l.currentTransport()
	l.mu.Unlock()

	n.run()
	if t != nil {
		t.Drop()
	}
}

func (l *Link) onGoodbye(t transport.Transport, m *delivery.Goodbye) {
	if l.role != RoleServer {
		l.unexpected(m)
		return
	}
	if !l.isCurrent(t) || m.SessionID != l.protocol.SessionID() {
		log.Debug().Str("session", m.SessionID.String()).Msg("drop goodbye of another session")
		return
	}
	log.Info().Str("session", m.SessionID.String()).Msg("client said goodbye")
	_ = l.Close()
}
