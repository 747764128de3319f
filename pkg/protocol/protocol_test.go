package protocol

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/krallin/hyper-02/pkg/protocol/codec"
	"github.com/krallin/hyper-02/pkg/transport/mem"
)

func registry(t *testing.T) *codec.Registry {
	t.Helper()
	r, err := codec.NewRegistry()
	require.NoError(t, err)
	return r
}

func TestEnvelopeRoundTrip(t *testing.T) {
	e := Envelope{Header: Header{Type: MsgData, Format: FormatRaw}, Payload: []byte("hello")}
	e.SetFlag(FlagAck, true)

	var buf bytes.Buffer
	n, err := e.WriteTo(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, HeaderSize+5, n)
	assert.EqualValues(t, HeaderSize+5, buf.Len())

	var d Envelope
	n, err = d.ReadFrom(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, HeaderSize+5, n)
	assert.Equal(t, "hello", string(d.Payload))
	assert.Equal(t, Version, d.Header.Version)
	assert.True(t, d.HasFlag(FlagAck))
	assert.False(t, d.HasFlag(FlagFinal))

	_, err = d.ReadFrom(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEnvelopeRejectsBadFrames(t *testing.T) {
	var e Envelope
	_, err := e.ReadFrom(bytes.NewReader(make([]byte, HeaderSize)))
	assert.ErrorIs(t, err, errBadMagic)

	good := Envelope{Payload: []byte("abcdef")}
	var buf bytes.Buffer
	_, err = good.WriteTo(&buf)
	require.NoError(t, err)
	_, err = e.ReadFrom(bytes.NewReader(buf.Bytes()[:HeaderSize+2]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	raw := append([]byte(nil), buf.Bytes()...)
	raw[2] = 9
	_, err = e.ReadFrom(bytes.NewReader(raw))
	assert.ErrorContains(t, err, "unsupported version 9")

	var h Header
	assert.ErrorIs(t, h.UnmarshalBinary(raw[:4]), errShortHeader)
}

func TestBodyFormats(t *testing.T) {
	reg := registry(t)

	e, err := NewEnvelope(reg, MsgData, FormatJSON, map[string]any{"x": 1})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, DecodeBody(reg, &e, &m))
	assert.Equal(t, 1.0, m["x"])

	e, err = NewEnvelope(reg, MsgData, FormatCBOR, map[string]any{"buf": []byte{0xaa, 0xbb}})
	require.NoError(t, err)
	m = nil
	require.NoError(t, DecodeBody(reg, &e, &m))
	assert.Equal(t, []byte{0xaa, 0xbb}, m["buf"])

	s, err := structpb.NewStruct(map[string]any{"k": "v"})
	require.NoError(t, err)
	e, err = NewEnvelope(reg, MsgData, FormatProto, s)
	require.NoError(t, err)
	var out structpb.Struct
	require.NoError(t, DecodeBody(reg, &e, &out))
	assert.Equal(t, "v", out.Fields["k"].GetStringValue())

	_, err = NewEnvelope(reg, MsgData, FormatRaw, "x")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{"json": FormatJSON, "cbor": FormatCBOR, "proto": FormatProto, "raw": FormatRaw} {
		got, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

type ping struct {
	Seq     uint64 `json:"seq" cbor:"seq"`
	Payload string `json:"payload" cbor:"payload"`
}

func TestConnOverMemStream(t *testing.T) {
	tr := mem.New()
	l, err := tr.Bind(context.Background(), "frames", 0)
	require.NoError(t, err)
	name, err := l.SocketName()
	require.NoError(t, err)
	a, err := l.Listen()
	require.NoError(t, err)
	defer a.Close()

	cs, err := tr.Connect(context.Background(), "frames", name.(mem.Addr).Port)
	require.NoError(t, err)
	ss, err := a.Accept()
	require.NoError(t, err)

	reg := registry(t)
	client, server := NewConn(cs, reg), NewConn(ss, reg)
	defer client.Close()

	go func() {
		defer server.Close()
		var e Envelope
		for server.Recv(&e) == nil {
			if e.Header.Type != MsgPing {
				continue
			}
			var p ping
			if server.Decode(&e, &p) != nil {
				return
			}
			p.Payload += "!"
			_ = server.SendValue(MsgPong, e.Header.Format, p)
		}
	}()

	for i, f := range []Format{FormatJSON, FormatCBOR} {
		require.NoError(t, client.SendValue(MsgPing, f, ping{Seq: uint64(i), Payload: "hi"}))
		var e Envelope
		require.NoError(t, client.Recv(&e))
		assert.Equal(t, MsgPong, e.Header.Type)
		assert.Equal(t, f, e.Header.Format)
		var p ping
		require.NoError(t, client.Decode(&e, &p))
		assert.Equal(t, ping{Seq: uint64(i), Payload: "hi!"}, p)
	}

	require.NoError(t, client.Send(&Envelope{Header: Header{Type: MsgClose}}))
	require.NoError(t, client.Stream().Flush())
}
