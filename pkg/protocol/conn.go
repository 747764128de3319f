// Package protocol frames typed messages over a transport stream.
package protocol

import (
	"bufio"
	"sync"

	"github.com/krallin/hyper-02/pkg/protocol/codec"
	"github.com/krallin/hyper-02/pkg/transport"
)

// Conn sends and receives envelopes over a stream. Send and Recv may be
// called concurrently with each other; concurrent Sends are serialized.
type Conn struct {
	s   transport.Stream
	reg *codec.Registry

	rmu sync.Mutex
	br  *bufio.Reader

	wmu sync.Mutex
}

// NewConn frames s. reg resolves body formats.
func NewConn(s transport.Stream, reg *codec.Registry) *Conn {
	return &Conn{s: s, reg: reg, br: bufio.NewReader(s)}
}

// Stream returns the framed stream.
func (c *Conn) Stream() transport.Stream { return c.s }

// Send writes e and flushes it to the peer.
func (c *Conn) Send(e *Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := e.WriteTo(c.s); err != nil {
		return err
	}
	return c.s.Flush()
}

// SendValue encodes v with format f and sends it as a frame of type typ.
func (c *Conn) SendValue(typ uint8, f Format, v any) error {
	e, err := NewEnvelope(c.reg, typ, f, v)
	if err != nil {
		return err
	}
	return c.Send(&e)
}

// Recv reads the next frame into e.
func (c *Conn) Recv(e *Envelope) error {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	_, err := e.ReadFrom(c.br)
	return err
}

// Decode decodes the body of a received frame into v.
func (c *Conn) Decode(e *Envelope, v any) error { return DecodeBody(c.reg, e, v) }

// Close closes this handle on the stream.
func (c *Conn) Close() error { return c.s.Close() }
