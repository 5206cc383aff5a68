package dispatcher

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/network/codec"
	"github.com/linchenxuan/oncelink/network/transport"
)

type testTransport struct {
	dropped int
}

func (t *testTransport) Send([]byte) error { return nil }
func (t *testTransport) IsConnected() bool { return true }
func (t *testTransport) Drop()             { t.dropped++ }
func (t *testTransport) Close() error      { return nil }

type testHandler struct {
	mu        sync.Mutex
	events    []string
	msgs      []delivery.ProtocolMessage
	transport transport.Transport
}

func (h *testHandler) OnTransportConnected(t transport.Transport) {
	h.record("connected", t)
}

func (h *testHandler) OnTransportDisconnected(t transport.Transport) {
	h.record("disconnected", t)
}

func (h *testHandler) OnTransportClosed(t transport.Transport) {
	h.record("closed", t)
}

func (h *testHandler) OnRecvMessage(t transport.Transport, msg delivery.ProtocolMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	h.transport = t
}

func (h *testHandler) record(ev string, t transport.Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	h.transport = t
}

var testSession = delivery.NewSessionID()

func encode(t *testing.T, m delivery.ProtocolMessage) []byte {
	t.Helper()
	b, err := codec.Encode(m, nil)
	if err != nil {
		t.Fatalf("encode %v: %v", m.Kind(), err)
	}
	return b
}

func newTestDispatcher(t *testing.T, cfg *DispatcherCfg, filters ...DispatcherFilter) (*Dispatcher, *testHandler) {
	t.Helper()
	h := &testHandler{}
	d, err := NewDispatcher(cfg, h, filters...)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return d, h
}

func TestDispatcherForwardsDecodedMessages(t *testing.T) {
	d, h := newTestDispatcher(t, nil)
	tr := &testTransport{}

	d.OnTransportConnected(tr)
	d.OnRecvFrame(tr, encode(t, &delivery.Send{SessionID: testSession, Seq: 0, Payload: []byte("a")}))
	d.OnRecvFrame(tr, encode(t, &delivery.Ack{SessionID: testSession, Seq: 0}))
	d.OnTransportDisconnected(tr)
	d.OnTransportClosed(tr)

	if len(h.msgs) != 2 {
		t.Fatalf("message count mismatch: got %d want 2", len(h.msgs))
	}
	send, ok := h.msgs[0].(*delivery.Send)
	if !ok || string(send.Payload) != "a" {
		t.Fatalf("unexpected first message: %#v", h.msgs[0])
	}
	if h.msgs[1].Kind() != delivery.KindAck {
		t.Fatalf("unexpected second message kind: %v", h.msgs[1].Kind())
	}
	want := []string{"connected", "disconnected", "closed"}
	for i, ev := range want {
		if h.events[i] != ev {
			t.Fatalf("event %d mismatch: got %s want %s", i, h.events[i], ev)
		}
	}
	if h.transport != tr {
		t.Fatalf("handler saw a different transport")
	}
}

func TestDispatcherMalformedFrameDropsConnection(t *testing.T) {
	d, h := newTestDispatcher(t, nil)
	tr := &testTransport{}

	d.OnRecvFrame(tr, []byte{0xff, 0xff, 0xff})
	if len(h.msgs) != 0 {
		t.Fatalf("malformed frame reached the handler")
	}
	if tr.dropped != 1 {
		t.Fatalf("transport drop count mismatch: got %d want 1", tr.dropped)
	}
}

func TestDispatcherSizeAndKindFilter(t *testing.T) {
	cfg := DefaultDispatcherCfg()
	cfg.MaxFrameSize = 64
	cfg.KindFilter = []string{"goodbye"}
	d, h := newTestDispatcher(t, cfg)
	tr := &testTransport{}

	d.OnRecvFrame(tr, encode(t, &delivery.Send{SessionID: testSession, Seq: 0, Payload: make([]byte, 100)}))
	d.OnRecvFrame(tr, encode(t, &delivery.Goodbye{SessionID: testSession}))
	d.OnRecvFrame(tr, encode(t, &delivery.Ack{SessionID: testSession, Seq: 3}))
	if len(h.msgs) != 1 || h.msgs[0].Kind() != delivery.KindAck {
		t.Fatalf("only the ack should pass, got %d messages", len(h.msgs))
	}
	if tr.dropped != 0 {
		t.Fatalf("filtered frames must not drop the connection")
	}

	cfg2 := DefaultDispatcherCfg()
	if err := d.Reload(cfg2); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	d.OnRecvFrame(tr, encode(t, &delivery.Goodbye{SessionID: testSession}))
	if len(h.msgs) != 2 {
		t.Fatalf("goodbye should pass after reload")
	}
}

func TestDispatcherCustomFilter(t *testing.T) {
	errStop := errors.New("stop")
	var seen []delivery.Kind
	filter := func(fc *FrameContext, next FilterHandleFunc) error {
		seen = append(seen, fc.Msg.Kind())
		if fc.Msg.Kind() == delivery.KindHandshake {
			return errStop
		}
		return next(fc)
	}
	d, h := newTestDispatcher(t, nil, filter)
	tr := &testTransport{}

	d.OnRecvFrame(tr, encode(t, &delivery.Handshake{SessionID: testSession, Ack: -1}))
	d.OnRecvFrame(tr, encode(t, &delivery.Ack{SessionID: testSession, Seq: 1}))
	if len(seen) != 2 {
		t.Fatalf("custom filter saw %d messages, want 2", len(seen))
	}
	if len(h.msgs) != 1 {
		t.Fatalf("custom filter should stop the handshake, handler got %d", len(h.msgs))
	}
}

func TestDispatcherTokenLimiterPaces(t *testing.T) {
	cfg := DefaultDispatcherCfg()
	cfg.RecvRateLimit = 50
	cfg.TokenBurst = 1
	d, h := newTestDispatcher(t, cfg)
	tr := &testTransport{}
	frame := encode(t, &delivery.Ack{SessionID: testSession, Seq: 0})

	start := time.Now()
	for i := 0; i < 4; i++ {
		d.OnRecvFrame(tr, frame)
	}
	// one token up front, then one every 20ms
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("limiter did not pace frames: %v", elapsed)
	}
	if len(h.msgs) != 4 {
		t.Fatalf("limited frames must still be delivered, got %d", len(h.msgs))
	}
}

func TestDispatcherFunnelLimiterAndReload(t *testing.T) {
	cfg := DefaultDispatcherCfg()
	cfg.Limiter = LimiterFunnel
	cfg.RecvRateLimit = 100
	d, h := newTestDispatcher(t, cfg)
	if _, ok := d.recvLimiter.(*FunnelRecvLimiter); !ok {
		t.Fatalf("limiter type mismatch: %T", d.recvLimiter)
	}
	frame := encode(t, &delivery.Ack{SessionID: testSession, Seq: 0})

	start := time.Now()
	for i := 0; i < 4; i++ {
		d.OnRecvFrame(tr(), frame)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("funnel did not pace frames: %v", elapsed)
	}

	fast := DefaultDispatcherCfg()
	fast.Limiter = LimiterNone
	if err := d.Reload(fast); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if d.recvLimiter != nil {
		t.Fatalf("limiter none must disable limiting")
	}
	d.OnRecvFrame(tr(), frame)
	if len(h.msgs) != 5 {
		t.Fatalf("message count mismatch: got %d want 5", len(h.msgs))
	}

	bad := DefaultDispatcherCfg()
	bad.Limiter = "bucket"
	if err := d.Reload(bad); !errors.Is(err, ErrInvalidDispatcherCfg) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func tr() *testTransport { return &testTransport{} }

func TestDispatcherCfgValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(c *DispatcherCfg)
		ok     bool
	}{
		{"default", func(*DispatcherCfg) {}, true},
		{"none ignores rate", func(c *DispatcherCfg) { c.Limiter = LimiterNone; c.RecvRateLimit = 0 }, true},
		{"funnel ignores burst", func(c *DispatcherCfg) { c.Limiter = LimiterFunnel; c.TokenBurst = 0 }, true},
		{"zero rate", func(c *DispatcherCfg) { c.RecvRateLimit = 0 }, false},
		{"huge rate", func(c *DispatcherCfg) { c.RecvRateLimit = 2000000 }, false},
		{"zero burst", func(c *DispatcherCfg) { c.TokenBurst = 0 }, false},
		{"burst too big", func(c *DispatcherCfg) { c.RecvRateLimit = 10; c.TokenBurst = 101 }, false},
		{"no frame size", func(c *DispatcherCfg) { c.MaxFrameSize = 0 }, false},
		{"unknown kind", func(c *DispatcherCfg) { c.KindFilter = []string{"ping"} }, false},
		{"known kind", func(c *DispatcherCfg) { c.KindFilter = []string{"ack", "send"} }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultDispatcherCfg()
			tc.modify(c)
			err := c.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidDispatcherCfg) {
				t.Fatalf("expected ErrInvalidDispatcherCfg, got %v", err)
			}
		})
	}
}
