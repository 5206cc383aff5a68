package unix

import (
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linchenxuan/oncelink/network/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	frames atomic.Int32
}

func (c *counter) OnTransportConnected(transport.Transport)    {}
func (c *counter) OnTransportDisconnected(transport.Transport) {}
func (c *counter) OnTransportClosed(transport.Transport)       {}
func (c *counter) OnRecvFrame(transport.Transport, []byte)     { c.frames.Add(1) }

func TestUnixRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oncelink.sock")
	scfg := DefaultUnixCfg(path)
	scfg.Mode = transport.ModeServer
	srv := NewServer(scfg)
	sc := &counter{}
	require.NoError(t, srv.Start(sc))
	defer srv.Close()

	cfg := DefaultUnixCfg(path)
	cfg.RedialInterval = 10 * time.Millisecond
	d := NewDialer(cfg)
	require.NoError(t, d.Start(&counter{}))
	defer d.Close()

	require.Eventually(t, d.IsConnected, time.Second, time.Millisecond)
	require.NoError(t, d.Send([]byte("hi")))
	require.Eventually(t, func() bool { return sc.frames.Load() == 1 }, time.Second, time.Millisecond)
}

func TestRemoveStale(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, removeStale(filepath.Join(dir, "missing.sock")))

	regular := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(regular, []byte("x"), 0o600))
	assert.Error(t, removeStale(regular))

	live := filepath.Join(dir, "live.sock")
	ln, err := net.Listen("unix", live)
	require.NoError(t, err)
	assert.Error(t, removeStale(live), "socket with a listener is in use")

	// a unix listener removes its file on close, so leave one behind on purpose
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
	assert.NoError(t, removeStale(live))
	_, err = os.Stat(live)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
