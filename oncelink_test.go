package oncelink

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/event"
	"github.com/linchenxuan/oncelink/network/dispatcher"
	"github.com/linchenxuan/oncelink/network/link"
	"github.com/linchenxuan/oncelink/plugin"
)

type echoChannel struct {
	l *link.Link
}

func (e *echoChannel) OnConnected()        {}
func (e *echoChannel) OnDisconnected(bool) {}
func (e *echoChannel) OnClosed()           {}
func (e *echoChannel) OnMessage(payload []byte) {
	_ = e.l.Send(append([]byte("echo:"), payload...))
}

type recordChannel struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordChannel) OnConnected()        {}
func (r *recordChannel) OnDisconnected(bool) {}
func (r *recordChannel) OnClosed()           {}
func (r *recordChannel) OnMessage(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, string(payload))
}

func (r *recordChannel) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func unixPlugins(path, mode string) map[string]any {
	return map[string]any{
		"transport": map[string]any{
			"unix": map[string]any{
				"tag":            plugin.DefaultInsName,
				"addr":           path,
				"mode":           mode,
				"redialInterval": "10ms",
			},
		},
	}
}

func TestDialAndServe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oncelink.sock")

	server, err := New(&Config{
		Plugins:   unixPlugins(path, "server"),
		Reconnect: map[string]any{"ackTimeout": "20ms"},
	})
	require.NoError(t, err)
	defer server.Stop()
	assert.Equal(t, 20*time.Millisecond, server.Reconnect().AckTimeout)

	acc, err := server.Serve(plugin.DefaultInsName, func(l *link.Link) link.Channel {
		return &echoChannel{l: l}
	})
	require.NoError(t, err)

	client, err := New(&Config{
		Plugins:    unixPlugins(path, "client"),
		Dispatcher: map[string]any{"limiter": dispatcher.LimiterFunnel, "recvRateLimit": 5000},
	})
	require.NoError(t, err)
	defer client.Stop()

	var (
		mu        sync.Mutex
		connected []event.LinkEvent
	)
	require.NoError(t, client.Publisher.RegisterSubscriber(event.LinkConnected, func(p any) {
		mu.Lock()
		defer mu.Unlock()
		connected = append(connected, p.(event.LinkEvent))
	}))

	rc := &recordChannel{}
	l, err := client.Dial(plugin.DefaultInsName, rc)
	require.NoError(t, err)
	require.Eventually(t, l.IsConnected, 2*time.Second, time.Millisecond)

	var want []string
	for i := 0; i < 40; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, "echo:"+msg)
		require.NoError(t, l.Send([]byte(msg)))
	}
	require.Eventually(t, func() bool { return len(rc.messages()) == len(want) }, 2*time.Second, time.Millisecond)
	assert.Equal(t, want, rc.messages())
	assert.Len(t, acc.Links(), 1)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(connected) == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.False(t, connected[0].Server)
	assert.Equal(t, l.SessionID().String(), connected[0].Session)
	mu.Unlock()

	client.Stop()
	assert.True(t, l.IsClosed())
	require.Eventually(t, func() bool { return len(acc.Links()) == 0 }, 2*time.Second, time.Millisecond,
		"goodbye retires the server link")

	_, err = client.Dial(plugin.DefaultInsName, rc)
	assert.Error(t, err)
}

func TestDialWrongEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oncelink.sock")
	o, err := New(&Config{Plugins: unixPlugins(path, "server")})
	require.NoError(t, err)
	defer o.Stop()

	_, err = o.Dial(plugin.DefaultInsName, &recordChannel{})
	assert.ErrorIs(t, err, ErrEndpointMode)
	_, err = o.Dial("missing", &recordChannel{})
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(&Config{Reconnect: map[string]any{"sendWindow": 0}})
	assert.ErrorIs(t, err, delivery.ErrInvalidConfig)

	_, err = New(&Config{Dispatcher: map[string]any{"limiter": "bucket"}})
	assert.ErrorIs(t, err, dispatcher.ErrInvalidDispatcherCfg)

	_, err = New(&Config{Dispatcher: map[string]any{"unknown": 1}})
	assert.ErrorIs(t, err, dispatcher.ErrInvalidDispatcherCfg)

	o, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, delivery.DefaultReconnectConfig(), o.Reconnect())
	o.Stop()
	o.Stop()
}
