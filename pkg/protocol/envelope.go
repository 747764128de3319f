package protocol

import (
	"fmt"
	"io"
)

// MaxPayload bounds the payload of a single frame.
const MaxPayload = 16 << 20

// Envelope is a header plus payload.
type Envelope struct {
	Header  Header
	Payload []byte
}

// HasFlag checks whether a flag is set.
func (e *Envelope) HasFlag(flag uint8) bool { return e.Header.Flags&flag != 0 }

// SetFlag sets/unsets a flag.
func (e *Envelope) SetFlag(flag uint8, on bool) {
	if on {
		e.Header.Flags |= flag
	} else {
		e.Header.Flags &^= flag
	}
}

// WriteTo writes header and payload to w.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	if len(e.Payload) > MaxPayload {
		return 0, fmt.Errorf("protocol: payload too large: %d", len(e.Payload))
	}
	if e.Header.Version == 0 {
		e.Header.Version = Version
	}
	e.Header.PayloadLen = uint32(len(e.Payload))
	var hb [HeaderSize]byte
	e.Header.put(hb[:])
	n1, err := w.Write(hb[:])
	if err != nil {
		return int64(n1), err
	}
	n2, err := w.Write(e.Payload)
	return int64(n1 + n2), err
}

// ReadFrom reads one frame from r. A clean end of stream before the header
// returns io.EOF; a frame cut short returns io.ErrUnexpectedEOF.
func (e *Envelope) ReadFrom(r io.Reader) (int64, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return 0, err
	}
	if err := e.Header.UnmarshalBinary(hb[:]); err != nil {
		return HeaderSize, err
	}
	if e.Header.PayloadLen > MaxPayload {
		return HeaderSize, fmt.Errorf("protocol: payload too large: %d", e.Header.PayloadLen)
	}
	e.Payload = nil
	if e.Header.PayloadLen > 0 {
		e.Payload = make([]byte, int(e.Header.PayloadLen))
		if n, err := io.ReadFull(r, e.Payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return int64(HeaderSize + n), err
		}
	}
	return int64(HeaderSize + int(e.Header.PayloadLen)), nil
}
