package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Fixed header layout (12 bytes). Integers are little-endian.
//
//	0  ..1   Magic   'H''N' (0x4e48)
//	2        Version u8
//	3        Type    u8
//	4        Format  u8
//	5        Flags   u8
//	6  ..7   Reserved u16
//	8  ..11  PayloadLen u32
const (
	HeaderSize = 12
	magicWord  = uint16(0x4e48)
	// Version is the only header version understood.
	Version uint8 = 1
)

var (
	errShortHeader = errors.New("protocol: short header")
	errBadMagic    = errors.New("protocol: bad magic")
)

// Header describes one frame.
type Header struct {
	Version    uint8
	Type       uint8
	Format     Format
	Flags      uint8
	PayloadLen uint32
}

// MarshalBinary encodes the header.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf, nil
}

func (h *Header) put(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], magicWord)
	buf[2] = h.Version
	buf[3] = h.Type
	buf[4] = byte(h.Format)
	buf[5] = h.Flags
	// 6..7 reserved stays zero
	binary.LittleEndian.PutUint32(buf[8:12], h.PayloadLen)
}

// UnmarshalBinary decodes a header and checks magic and version.
func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize {
		return errShortHeader
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
		return errBadMagic
	}
	if buf[2] != Version {
		return fmt.Errorf("protocol: unsupported version %d", buf[2])
	}
	h.Version = buf[2]
	h.Type = buf[3]
	h.Format = Format(buf[4])
	h.Flags = buf[5]
	h.PayloadLen = binary.LittleEndian.Uint32(buf[8:12])
	return nil
}
