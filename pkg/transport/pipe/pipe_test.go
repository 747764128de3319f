//go:build unix

package pipe

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krallin/hyper-02/pkg/transport"
	"github.com/krallin/hyper-02/pkg/transport/transporttest"
)

func socketPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "s.sock")
}

func TestConformance(t *testing.T) {
	transporttest.Run(t, transporttest.Harness[*Stream, *Acceptor, *Listener]{
		New:      func(*testing.T) transport.Transport[*Stream, *Acceptor, *Listener] { return New() },
		NextHost: socketPath,
	})
}

func TestPortRejected(t *testing.T) {
	_, err := New().Bind(context.Background(), socketPath(t), 80)
	assert.ErrorIs(t, err, transport.ErrBind)
	assert.ErrorIs(t, err, transport.ErrInvalidAddress)

	_, err = New().Connect(context.Background(), "", 0)
	assert.ErrorIs(t, err, transport.ErrConnect)
	assert.ErrorIs(t, err, transport.ErrInvalidAddress)
}

func TestBindRemovesStaleSocket(t *testing.T) {
	path := socketPath(t)
	l, err := New().Bind(context.Background(), path, 0)
	require.NoError(t, err)
	a, err := l.Listen()
	require.NoError(t, err)

	_, err = New().Bind(context.Background(), path, 0)
	assert.ErrorIs(t, err, transport.ErrAddrInUse)

	require.NoError(t, a.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket file left behind")

	stale, err := net.Listen("unix", path)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)

	l2, err := New().Bind(context.Background(), path, 0)
	require.NoError(t, err)
	require.NoError(t, l2.Close())
}

func TestBindTwiceKeepsFirstReservation(t *testing.T) {
	path := socketPath(t)
	first, err := New().Bind(context.Background(), path, 0)
	require.NoError(t, err)

	second, err := New().Bind(context.Background(), path, 0)
	assert.Nil(t, second)
	assert.ErrorIs(t, err, transport.ErrBind)
	assert.ErrorIs(t, err, transport.ErrAddrInUse)

	_, err = os.Stat(path)
	require.NoError(t, err, "reserved socket file was removed")

	a, err := first.Listen()
	require.NoError(t, err)
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		s, err := a.Accept()
		if err == nil {
			_ = s.Close()
		}
		done <- err
	}()
	c, err := New().Connect(context.Background(), path, 0)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, <-done)

	require.NoError(t, a.Close())
	l, err := New().Bind(context.Background(), path, 0)
	require.NoError(t, err, "path not released after close")
	require.NoError(t, l.Close())
}

func TestConnectMissingSocket(t *testing.T) {
	_, err := New().Connect(context.Background(), socketPath(t), 0)
	assert.ErrorIs(t, err, transport.ErrConnect)
}
