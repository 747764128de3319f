package protocol

import (
	"fmt"

	"github.com/krallin/hyper-02/pkg/protocol/codec"
)

// Format is the on-wire indicator of payload encoding, carried in the header.
type Format uint8

const (
	FormatRaw Format = iota
	FormatJSON
	FormatCBOR
	FormatProto
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return ContentJSON
	case FormatCBOR:
		return ContentCBOR
	case FormatProto:
		return ContentProto
	default:
		return ContentUnknown
	}
}

// ParseFormat maps a short name (json, cbor, proto, raw) to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	case "proto", "protobuf":
		return FormatProto, nil
	case "raw", "":
		return FormatRaw, nil
	default:
		return FormatRaw, fmt.Errorf("protocol: unknown format %q", s)
	}
}

// CodecFor returns the codec for a format. FormatRaw has none.
func CodecFor(r *codec.Registry, f Format) (codec.Codec, error) {
	if f == FormatRaw {
		return nil, fmt.Errorf("protocol: raw payloads have no codec")
	}
	if c := r.Get(f.String()); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("protocol: no codec for format %d", f)
}

// NewEnvelope encodes v with the codec for f.
func NewEnvelope(r *codec.Registry, typ uint8, f Format, v any) (Envelope, error) {
	c, err := CodecFor(r, f)
	if err != nil {
		return Envelope{}, err
	}
	b, err := c.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode %s: %w", f, err)
	}
	return Envelope{Header: Header{Version: Version, Type: typ, Format: f}, Payload: b}, nil
}

// DecodeBody decodes the payload of e into v using the format in its header.
func DecodeBody(r *codec.Registry, e *Envelope, v any) error {
	c, err := CodecFor(r, e.Header.Format)
	if err != nil {
		return err
	}
	if err := c.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("protocol: decode %s: %w", e.Header.Format, err)
	}
	return nil
}
