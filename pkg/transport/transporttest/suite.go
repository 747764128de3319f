// Package transporttest provides the conformance suite every transport runs
// in its tests, so that all adapters behave the same behind the contracts.
package transporttest

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krallin/hyper-02/pkg/transport"
)

// Timeout bounds every blocking step of the suite.
var Timeout = 5 * time.Second

// Harness describes the transport under test.
type Harness[S transport.Stream, A transport.CloneableAcceptor[S, A], L transport.Listener[S, A]] struct {
	// New returns a fresh transport for each subtest.
	New func(t *testing.T) transport.Transport[S, A, L]
	// Host is bound and connected to; it may be rewritten per subtest by NextHost.
	Host string
	// NextHost, when set, returns a unique host per bind (socket paths).
	NextHost func(t *testing.T) string
	// Port reports the port of a bound address; nil means the transport has
	// no ports and always binds port 0.
	Port func(net.Addr) (uint16, bool)
	// LocalName returns the local address of a client stream, for peer name
	// checks. Nil skips them.
	LocalName func(S) net.Addr
}

func (h Harness[S, A, L]) host(t *testing.T) string {
	if h.NextHost != nil {
		return h.NextHost(t)
	}
	return h.Host
}

// TCPPort extracts the port of TCP and UDP addresses.
func TCPPort(a net.Addr) (uint16, bool) {
	switch a := a.(type) {
	case *net.TCPAddr:
		return uint16(a.Port), true
	case *net.UDPAddr:
		return uint16(a.Port), true
	}
	_, p, err := net.SplitHostPort(a.String())
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(p, 10, 16)
	return uint16(n), err == nil
}

// pair is one connected client/server couple.
type pair[S transport.Stream, A transport.Acceptor[S]] struct {
	acceptor A
	client   S
	server   S
}

func (h Harness[S, A, L]) listen(t *testing.T, tr transport.Transport[S, A, L]) (A, string, uint16) {
	t.Helper()
	host := h.host(t)
	l, err := tr.Bind(context.Background(), host, 0)
	require.NoError(t, err)
	name, err := l.SocketName()
	require.NoError(t, err)
	var port uint16
	if h.Port != nil {
		p, ok := h.Port(name)
		require.True(t, ok, "no port in %v", name)
		require.NotZero(t, p, "ephemeral port not assigned")
		port = p
	}
	a, err := l.Listen()
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, host, port
}

func (h Harness[S, A, L]) connect(t *testing.T) pair[S, A] {
	t.Helper()
	tr := h.New(t)
	a, host, port := h.listen(t, tr)
	return h.connectTo(t, tr, a, host, port)
}

func (h Harness[S, A, L]) connectTo(t *testing.T, tr transport.Transport[S, A, L], a A, host string, port uint16) pair[S, A] {
	t.Helper()
	type result struct {
		s   S
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		s, err := a.Accept()
		accepted <- result{s, err}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	c, err := tr.Connect(ctx, host, port)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	select {
	case r := <-accepted:
		require.NoError(t, r.err)
		t.Cleanup(func() { _ = r.s.Close() })
		return pair[S, A]{acceptor: a, client: c, server: r.s}
	case <-time.After(Timeout):
		t.Fatal("accept timed out")
	}
	panic("unreachable")
}

// send writes msg through w and flushes, off the test goroutine.
func send(w transport.Stream, msg string) <-chan error {
	done := make(chan error, 1)
	go func() {
		if _, err := w.Write([]byte(msg)); err != nil {
			done <- err
			return
		}
		done <- w.Flush()
	}()
	return done
}

// expect reads exactly len(msg) bytes from r.
func expect(t *testing.T, r io.Reader, msg string) {
	t.Helper()
	got := make(chan []byte, 1)
	errs := make(chan error, 1)
	go func() {
		buf := make([]byte, len(msg))
		if _, err := io.ReadFull(r, buf); err != nil {
			errs <- err
			return
		}
		got <- buf
	}()
	select {
	case b := <-got:
		assert.Equal(t, msg, string(b))
	case err := <-errs:
		t.Fatalf("read: %v", err)
	case <-time.After(Timeout):
		t.Fatal("read timed out")
	}
}

func waitErr(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(Timeout):
		t.Fatal("write timed out")
	}
}

// Run executes the conformance suite.
func Run[S transport.Stream, A transport.CloneableAcceptor[S, A], L transport.Listener[S, A]](t *testing.T, h Harness[S, A, L]) {
	t.Helper()

	t.Run("bind listen socket name", func(t *testing.T) {
		tr := h.New(t)
		l, err := tr.Bind(context.Background(), h.host(t), 0)
		require.NoError(t, err)
		before, err := l.SocketName()
		require.NoError(t, err)
		a, err := l.Listen()
		require.NoError(t, err)
		defer a.Close()
		after, err := l.SocketName()
		require.NoError(t, err)
		assert.Equal(t, before.String(), after.String())
		assert.Equal(t, before.String(), a.Addr().String())
		if h.Port != nil {
			p, ok := h.Port(after)
			require.True(t, ok)
			assert.NotZero(t, p)
		}
	})

	t.Run("listen consumes listener", func(t *testing.T) {
		tr := h.New(t)
		l, err := tr.Bind(context.Background(), h.host(t), 0)
		require.NoError(t, err)
		a, err := l.Listen()
		require.NoError(t, err)
		defer a.Close()
		_, err = l.Listen()
		require.Error(t, err)
		assert.ErrorIs(t, err, transport.ErrListen)
		assert.ErrorIs(t, err, transport.ErrListenerConsumed)
	})

	t.Run("ping", func(t *testing.T) {
		p := h.connect(t)
		waitErr(t, send(p.client, "ping"))
		expect(t, p.server, "ping")
	})

	t.Run("pong", func(t *testing.T) {
		p := h.connect(t)
		waitErr(t, send(p.server, "pong"))
		expect(t, p.client, "pong")
	})

	if h.LocalName != nil {
		t.Run("peer name", func(t *testing.T) {
			p := h.connect(t)
			peer, err := p.server.PeerName()
			require.NoError(t, err)
			assert.Equal(t, h.LocalName(p.client).String(), peer.String())
		})
	}

	t.Run("clone shares connection", func(t *testing.T) {
		p := h.connect(t)
		dup := p.server.CloneStream()
		waitErr(t, send(dup, "one"))
		expect(t, p.client, "one")
		waitErr(t, send(p.server, "two"))
		expect(t, p.client, "two")

		require.NoError(t, dup.Close())
		waitErr(t, send(p.server, "three"))
		expect(t, p.client, "three")

		require.NoError(t, p.server.Close())
		assertEOF(t, p.client)
	})

	t.Run("closed handle rejects io", func(t *testing.T) {
		p := h.connect(t)
		dup := p.server.CloneStream()
		require.NoError(t, dup.Close())
		require.NoError(t, dup.Close())
		_, err := dup.Write([]byte("x"))
		assert.ErrorIs(t, err, transport.ErrIO)
		assert.ErrorIs(t, err, net.ErrClosed)
		waitErr(t, send(p.server, "alive"))
		expect(t, p.client, "alive")
	})

	t.Run("erased clone shares connection", func(t *testing.T) {
		p := h.connect(t)
		e := transport.Abstract(p.server)
		assert.Same(t, e, transport.Abstract(e))
		_, ok := e.Unwrap().(S)
		assert.True(t, ok, "erasure lost the concrete type")

		dup := e.Clone()
		_, ok = dup.Unwrap().(S)
		assert.True(t, ok, "erased clone lost the concrete type")
		waitErr(t, send(dup, "erased"))
		expect(t, p.client, "erased")

		waitErr(t, send(transport.Abstract(p.client), "back"))
		expect(t, dup, "back")
	})

	t.Run("close acceptor", func(t *testing.T) {
		p := h.connect(t)
		dup := p.acceptor.Clone()
		blocked := make(chan error, 1)
		go func() {
			_, err := dup.Accept()
			blocked <- err
		}()
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, p.acceptor.Close())
		require.NoError(t, p.acceptor.Close())

		select {
		case err := <-blocked:
			assertClosed(t, err)
		case <-time.After(Timeout):
			t.Fatal("pending accept not released by close")
		}
		_, err := p.acceptor.Accept()
		assertClosed(t, err)
		_, err = dup.Accept()
		assertClosed(t, err)
		_, err = dup.Clone().Accept()
		assertClosed(t, err)

		waitErr(t, send(p.client, "after close"))
		expect(t, p.server, "after close")
	})

	t.Run("concurrent accept on clones", func(t *testing.T) {
		tr := h.New(t)
		a, host, port := h.listen(t, tr)
		const n = 4
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen []S
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(a A) {
				defer wg.Done()
				s, err := a.Accept()
				if err != nil {
					return
				}
				mu.Lock()
				seen = append(seen, s)
				mu.Unlock()
			}(a.Clone())
		}
		for i := 0; i < n; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), Timeout)
			c, err := tr.Connect(ctx, host, port)
			cancel()
			require.NoError(t, err)
			defer c.Close()
			waitErr(t, send(c, "x"))
		}
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(Timeout):
			t.Fatal("accept goroutines did not finish")
		}
		require.Len(t, seen, n)
		for _, s := range seen {
			expect(t, s, "x")
			_ = s.Close()
		}
	})

	t.Run("erased network", func(t *testing.T) {
		nw := transport.Erase[S, A, L](h.New(t))
		host := h.host(t)
		l, err := nw.Bind(context.Background(), host, 0)
		require.NoError(t, err)
		name, err := l.SocketName()
		require.NoError(t, err)
		var port uint16
		if h.Port != nil {
			port, _ = h.Port(name)
		}
		a, err := l.Listen()
		require.NoError(t, err)
		defer a.Close()

		accepted := make(chan *transport.Erased, 1)
		go func() {
			s, err := a.Clone().Accept()
			if err == nil {
				accepted <- s
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), Timeout)
		defer cancel()
		c, err := nw.Connect(ctx, host, port)
		require.NoError(t, err)
		defer c.Close()
		waitErr(t, send(c, "ping"))
		select {
		case s := <-accepted:
			defer s.Close()
			_, ok := s.Unwrap().(S)
			assert.True(t, ok)
			expect(t, s, "ping")
		case <-time.After(Timeout):
			t.Fatal("accept timed out")
		}
	})
}

func assertClosed(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrAcceptorClosed)
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.False(t, errors.Is(err, transport.ErrAccept), "closed acceptor reported as transient: %v", err)
}

func assertEOF(t *testing.T, r io.Reader) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		var b [1]byte
		_, err := r.Read(b[:])
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(Timeout):
		t.Fatal("peer still open after last handle closed")
	}
}
