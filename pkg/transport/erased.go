package transport

import "net"

// Erased is a Stream boxed behind the uniform Stream interface. It delegates
// every operation to the wrapped stream and duplicates through the wrapped
// stream's own CloneStream.
type Erased struct {
	inner Stream
}

// Abstract erases s. An *Erased is returned as is, never boxed twice.
func Abstract(s Stream) *Erased {
	if e, ok := s.(*Erased); ok {
		return e
	}
	return &Erased{inner: s}
}

func (e *Erased) Read(p []byte) (int, error)  { return e.inner.Read(p) }
func (e *Erased) Write(p []byte) (int, error) { return e.inner.Write(p) }
func (e *Erased) Flush() error                { return e.inner.Flush() }
func (e *Erased) Close() error                { return e.inner.Close() }

func (e *Erased) PeerName() (net.Addr, error) { return e.inner.PeerName() }

// Clone duplicates the wrapped stream and boxes the duplicate.
func (e *Erased) Clone() *Erased {
	return Abstract(e.inner.CloneStream())
}

func (e *Erased) CloneStream() Stream { return e.Clone() }

// Unwrap returns the concrete stream.
func (e *Erased) Unwrap() Stream { return e.inner }

var _ Cloner[*Erased] = (*Erased)(nil)
