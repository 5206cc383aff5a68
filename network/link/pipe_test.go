package link

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/network/dispatcher"
	"github.com/linchenxuan/oncelink/network/transport"
)

type pipeLinks struct {
	p        *transport.Pipe
	client   *Link
	server   *Link
	cch, sch *testChannel
}

func newPipeLinks(t *testing.T, cfg *delivery.ReconnectConfig) *pipeLinks {
	t.Helper()
	pl := &pipeLinks{p: transport.NewPipe(), cch: &testChannel{}, sch: &testChannel{}}

	var err error
	pl.client, err = NewClientLink(pl.p.Client(), cfg, pl.cch)
	require.NoError(t, err)
	pl.server, err = NewServerLink(cfg, pl.sch)
	require.NoError(t, err)

	cd, err := dispatcher.NewDispatcher(dispatcher.DefaultDispatcherCfg(), pl.client)
	require.NoError(t, err)
	sd, err := dispatcher.NewDispatcher(dispatcher.DefaultDispatcherCfg(), pl.server)
	require.NoError(t, err)
	require.NoError(t, pl.p.Client().Start(cd))
	require.NoError(t, pl.p.Server().Start(sd))

	t.Cleanup(func() {
		_ = pl.client.Close()
		_ = pl.server.Close()
	})
	return pl
}

func (pl *pipeLinks) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, pl.p.Connect())
	require.Eventually(t, func() bool {
		return pl.client.IsConnected() && pl.server.IsConnected()
	}, time.Second, time.Millisecond)
}

func numbered(prefix string, from, to int) []string {
	var out []string
	for i := from; i < to; i++ {
		out = append(out, fmt.Sprintf("%s%d", prefix, i))
	}
	return out
}

func sendAll(t *testing.T, l *Link, msgs []string) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, l.Send([]byte(m)))
	}
}

func TestPipeLinkEndToEnd(t *testing.T) {
	cfg := delivery.DefaultReconnectConfig()
	cfg.AckTimeout = 10 * time.Millisecond
	pl := newPipeLinks(t, cfg)
	pl.connect(t)
	assert.Equal(t, pl.client.SessionID(), pl.server.SessionID())

	up, down := numbered("c", 0, 100), numbered("s", 0, 100)
	sendAll(t, pl.client, up)
	sendAll(t, pl.server, down)

	require.Eventually(t, func() bool {
		return len(pl.sch.messages()) == len(up) && len(pl.cch.messages()) == len(down)
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, up, pl.sch.messages())
	assert.Equal(t, down, pl.cch.messages())

	require.Eventually(t, func() bool {
		cs, ss := pl.client.Stats(), pl.server.Stats()
		return cs.Resend == 0 && ss.Resend == 0
	}, time.Second, time.Millisecond, "ack timer acknowledges the tail")

	require.NoError(t, pl.client.Close())
	require.Eventually(t, pl.server.IsClosed, time.Second, time.Millisecond, "goodbye closes the server")
	_, disconnects, closed := pl.sch.state()
	assert.Equal(t, []bool{false}, disconnects)
	assert.Equal(t, 1, closed)
}

func TestPipeLinkResumesExactlyOnce(t *testing.T) {
	pl := newPipeLinks(t, delivery.DefaultReconnectConfig())
	pl.connect(t)
	session := pl.client.SessionID()

	sendAll(t, pl.client, numbered("m", 0, 10))
	require.Eventually(t, func() bool { return len(pl.sch.messages()) == 10 }, time.Second, time.Millisecond)

	// some of these are lost with the connection
	sendAll(t, pl.client, numbered("m", 10, 20))
	pl.p.Disconnect()
	assert.False(t, pl.client.IsConnected())
	sendAll(t, pl.client, numbered("m", 20, 25))

	pl.connect(t)
	require.Eventually(t, func() bool { return len(pl.sch.messages()) >= 25 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, numbered("m", 0, 25), pl.sch.messages())
	assert.Equal(t, session, pl.client.SessionID())

	for _, ch := range []*testChannel{pl.cch, pl.sch} {
		connected, disconnects, _ := ch.state()
		assert.Equal(t, 1, connected)
		assert.Empty(t, disconnects)
	}
}

func TestPipeLinkRestoreFailed(t *testing.T) {
	cfg := delivery.DefaultReconnectConfig()
	cfg.ReconnectTimeout = 40 * time.Millisecond
	pl := newPipeLinks(t, cfg)
	pl.connect(t)
	old := pl.client.SessionID()

	pl.p.Disconnect()
	require.Eventually(t, func() bool {
		_, cd, _ := pl.cch.state()
		_, sd, _ := pl.sch.state()
		return len(cd) == 1 && len(sd) == 1
	}, time.Second, time.Millisecond)
	for _, ch := range []*testChannel{pl.cch, pl.sch} {
		_, disconnects, _ := ch.state()
		assert.Equal(t, []bool{false}, disconnects)
	}

	// both sides start from scratch, so the server adopts the new session
	pl.connect(t)
	assert.NotEqual(t, old, pl.client.SessionID())
	assert.Equal(t, pl.client.SessionID(), pl.server.SessionID())

	sendAll(t, pl.client, []string{"again"})
	require.Eventually(t, func() bool { return len(pl.sch.messages()) == 1 }, time.Second, time.Millisecond)
	for _, ch := range []*testChannel{pl.cch, pl.sch} {
		connected, _, _ := ch.state()
		assert.Equal(t, 2, connected)
	}
}

func TestPipeLinkEcho(t *testing.T) {
	pl := newPipeLinks(t, delivery.DefaultReconnectConfig())
	pl.sch.onMessage = func(msg string) {
		_ = pl.server.Send([]byte("echo:" + msg))
	}
	pl.connect(t)

	sendAll(t, pl.client, numbered("e", 0, 50))
	require.Eventually(t, func() bool { return len(pl.cch.messages()) == 50 }, time.Second, time.Millisecond)
	for i, m := range pl.cch.messages() {
		assert.Equal(t, fmt.Sprintf("echo:e%d", i), m)
	}
}
