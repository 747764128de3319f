package quic

import (
	"context"
	"io"
	"testing"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krallin/hyper-02/pkg/transport"
	"github.com/krallin/hyper-02/pkg/transport/transporttest"
)

func TestConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("quic handshakes in -short mode")
	}
	transporttest.Run(t, transporttest.Harness[*Stream, *Acceptor, *Listener]{
		New:  func(*testing.T) transport.Transport[*Stream, *Acceptor, *Listener] { return New() },
		Host: "127.0.0.1",
		Port: transporttest.TCPPort,
	})
}

func TestAcceptedStreamOutlivesAcceptor(t *testing.T) {
	if testing.Short() {
		t.Skip("quic handshakes in -short mode")
	}
	tr := New()
	l, err := tr.Bind(context.Background(), "127.0.0.1", 0)
	require.NoError(t, err)
	name, err := l.SocketName()
	require.NoError(t, err)
	port, _ := transporttest.TCPPort(name)
	a, err := l.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := tr.Connect(ctx, "127.0.0.1", port)
	require.NoError(t, err)
	defer client.Close()
	server, err := a.Accept()
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, a.Close())
	assert.Equal(t, int64(1), a.st.sock.Refs())

	_, err = server.Write([]byte("still here"))
	require.NoError(t, err)
	require.NoError(t, server.Flush())
	buf := make([]byte, len("still here"))
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "still here", string(buf))
}

func TestListenerCloseReleasesSocket(t *testing.T) {
	tr := New()
	l, err := tr.Bind(context.Background(), "127.0.0.1", 0)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.Zero(t, l.sock.Refs())
	_, err = l.Listen()
	assert.ErrorIs(t, err, transport.ErrListenerConsumed)
}

func TestAcceptSkipsSilentConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("quic handshakes in -short mode")
	}
	old := StreamTimeout
	StreamTimeout = 200 * time.Millisecond
	t.Cleanup(func() { StreamTimeout = old })

	tr := New()
	l, err := tr.Bind(context.Background(), "127.0.0.1", 0)
	require.NoError(t, err)
	name, err := l.SocketName()
	require.NoError(t, err)
	port, _ := transporttest.TCPPort(name)
	a, err := l.Listen()
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	silent, err := quicgo.DialAddr(ctx, transport.HostPort("127.0.0.1", port), tr.opts.ClientTLS, tr.opts.Config)
	require.NoError(t, err)
	defer silent.CloseWithError(0, "")

	start := time.Now()
	_, err = a.Accept()
	require.Error(t, err)
	assert.True(t, transport.IsAcceptError(err))
	assert.Less(t, time.Since(start), 3*time.Second)

	client, err := tr.Connect(ctx, "127.0.0.1", port)
	require.NoError(t, err)
	defer client.Close()
	server, err := a.Accept()
	require.NoError(t, err)
	require.NoError(t, server.Close())
}
