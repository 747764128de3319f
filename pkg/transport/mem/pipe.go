package mem

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

var errNoDeadline = errors.New("mem: deadlines are not supported")

// newPipe returns the two ends of a connection between a and b.
func newPipe(a, b Addr) (*pipeConn, *pipeConn) {
	ab, ba := newBuffer(), newBuffer()
	return &pipeConn{r: ba, w: ab, local: a, remote: b},
		&pipeConn{r: ab, w: ba, local: b, remote: a}
}

// pipeConn is a net.Conn over two buffers, one per direction.
type pipeConn struct {
	r, w          *buffer
	local, remote Addr
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

// Close ends both directions: the peer reads EOF once drained and its writes
// fail.
func (c *pipeConn) Close() error {
	c.w.Close()
	c.r.Close()
	return nil
}

func (c *pipeConn) LocalAddr() net.Addr  { return c.local }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remote }

func (c *pipeConn) SetDeadline(time.Time) error      { return errNoDeadline }
func (c *pipeConn) SetReadDeadline(time.Time) error  { return errNoDeadline }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return errNoDeadline }

// buffer is a thread-safe, blocking, unbounded byte pipe.
type buffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newBuffer() *buffer {
	b := &buffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := b.buf.Write(p)
	b.cond.Broadcast()
	return n, err
}

func (b *buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.buf.Len() == 0 {
		if b.closed {
			return 0, io.EOF
		}
		b.cond.Wait()
	}
	return b.buf.Read(p)
}

func (b *buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}
