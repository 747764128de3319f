package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krallin/hyper-02/pkg/transport"
	"github.com/krallin/hyper-02/pkg/transport/transporttest"
)

func TestConformance(t *testing.T) {
	transporttest.Run(t, transporttest.Harness[*Stream, *Acceptor, *Listener]{
		New:       func(*testing.T) transport.Transport[*Stream, *Acceptor, *Listener] { return New() },
		Host:      "127.0.0.1",
		Port:      transporttest.TCPPort,
		LocalName: func(s *Stream) net.Addr { return s.LocalName() },
	})
}

func TestPingScenario(t *testing.T) {
	tr := New()
	l, err := tr.Bind(context.Background(), "127.0.0.1", 0)
	require.NoError(t, err)
	name, err := l.SocketName()
	require.NoError(t, err)
	port := uint16(name.(*net.TCPAddr).Port)
	require.NotZero(t, port)

	a, err := l.Listen()
	require.NoError(t, err)
	defer a.Close()

	client, err := tr.Connect(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	defer client.Close()

	server, err := a.Accept()
	require.NoError(t, err)
	defer server.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	buf := make([]byte, 4)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	peer, err := server.PeerName()
	require.NoError(t, err)
	assert.Equal(t, client.LocalName().String(), peer.String())
}

func TestBindRequestedPort(t *testing.T) {
	tr := New()
	spare, err := tr.Bind(context.Background(), "127.0.0.1", 0)
	require.NoError(t, err)
	name, err := spare.SocketName()
	require.NoError(t, err)
	port := uint16(name.(*net.TCPAddr).Port)
	require.NoError(t, spare.Close())

	l, err := tr.Bind(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	a, err := l.Listen()
	require.NoError(t, err)
	defer a.Close()
	got, err := l.SocketName()
	require.NoError(t, err)
	assert.Equal(t, int(port), got.(*net.TCPAddr).Port)
}

func TestBindAddressInUse(t *testing.T) {
	tr := New()
	l, err := tr.Bind(context.Background(), "127.0.0.1", 0)
	require.NoError(t, err)
	a, err := l.Listen()
	require.NoError(t, err)
	defer a.Close()
	port := uint16(a.Addr().(*net.TCPAddr).Port)

	_, err = tr.Bind(context.Background(), "127.0.0.1", port)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrBind)
	assert.ErrorIs(t, err, transport.ErrAddrInUse)
	var te *transport.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, transport.CodeBind, te.Code)
}

func TestBindReservesPortBeforeListen(t *testing.T) {
	tr := New()
	first, err := tr.Bind(context.Background(), "127.0.0.1", 0)
	require.NoError(t, err)
	defer first.Close()
	name, err := first.SocketName()
	require.NoError(t, err)
	port := uint16(name.(*net.TCPAddr).Port)

	second, err := tr.Bind(context.Background(), "127.0.0.1", port)
	if second != nil {
		_ = second.Close()
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrBind)
	assert.ErrorIs(t, err, transport.ErrAddrInUse)

	a, err := first.Listen()
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, port, uint16(a.Addr().(*net.TCPAddr).Port))
}

func TestBindInvalidAddress(t *testing.T) {
	_, err := New().Bind(context.Background(), "not a host", 80)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrBind)
	assert.ErrorIs(t, err, transport.ErrInvalidAddress)
}

func TestConnectRefused(t *testing.T) {
	tr := New()
	l, err := tr.Bind(context.Background(), "127.0.0.1", 0)
	require.NoError(t, err)
	name, err := l.SocketName()
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = tr.Connect(context.Background(), "127.0.0.1", uint16(name.(*net.TCPAddr).Port))
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrConnect)
	assert.ErrorIs(t, err, transport.ErrConnRefused)
}

func TestWriteBuffersUntilFlush(t *testing.T) {
	tr := New()
	l, err := tr.Bind(context.Background(), "127.0.0.1", 0)
	require.NoError(t, err)
	a, err := l.Listen()
	require.NoError(t, err)
	defer a.Close()

	client, err := tr.Connect(context.Background(), "127.0.0.1", uint16(a.Addr().(*net.TCPAddr).Port))
	require.NoError(t, err)
	defer client.Close()
	server, err := a.Accept()
	require.NoError(t, err)
	defer server.Close()

	_, err = client.Write([]byte("buffered"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), client.h.Refs())

	dup := client.Clone()
	assert.Equal(t, int64(2), client.h.Refs())
	require.NoError(t, dup.Flush())
	require.NoError(t, dup.Close())
	assert.Equal(t, int64(1), client.h.Refs())

	buf := make([]byte, len("buffered"))
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "buffered", string(buf))
}
