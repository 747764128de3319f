package transport

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream records how it was duplicated and shares a buffer with its
// clones.
type fakeStream struct {
	buf    *bytes.Buffer
	clones *int
	closed bool
}

func newFake() *fakeStream {
	return &fakeStream{buf: new(bytes.Buffer), clones: new(int)}
}

func (f *fakeStream) Read(p []byte) (int, error)  { return f.buf.Read(p) }
func (f *fakeStream) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *fakeStream) Flush() error                { return nil }
func (f *fakeStream) Close() error                { f.closed = true; return nil }

func (f *fakeStream) PeerName() (net.Addr, error) {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}, nil
}

func (f *fakeStream) CloneStream() Stream {
	*f.clones++
	return &fakeStream{buf: f.buf, clones: f.clones}
}

func TestAbstractDoesNotNest(t *testing.T) {
	f := newFake()
	e := Abstract(f)
	assert.Same(t, e, Abstract(e))
	assert.Same(t, f, e.Unwrap())

	var s Stream = e
	assert.Same(t, e, Abstract(s))
}

func TestErasedCloneUsesCloneStream(t *testing.T) {
	f := newFake()
	e := Abstract(f)
	c := e.Clone()
	assert.Equal(t, 1, *f.clones)
	assert.NotSame(t, e, c)

	inner, ok := c.Unwrap().(*fakeStream)
	require.True(t, ok, "clone boxed twice: %T", c.Unwrap())
	assert.NotSame(t, f, inner)

	_, err := c.Write([]byte("shared"))
	require.NoError(t, err)
	p := make([]byte, 6)
	n, err := e.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(p[:n]))

	_ = e.CloneStream()
	assert.Equal(t, 2, *f.clones)
}

func TestErasedDelegates(t *testing.T) {
	f := newFake()
	e := Abstract(f)
	a, err := e.PeerName()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9", a.String())
	require.NoError(t, e.Flush())
	require.NoError(t, e.Close())
	assert.True(t, f.closed)
}
