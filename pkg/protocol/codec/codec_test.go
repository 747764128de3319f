package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestJSONCodec(t *testing.T) {
	c := JSON()
	b, err := c.Marshal(map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, c.Unmarshal(b, &out))
	assert.Equal(t, map[string]any{"a": 1.0, "b": "x"}, out)
}

func TestCBORCodecIsCanonical(t *testing.T) {
	c, err := CBOR()
	require.NoError(t, err)
	a, err := c.Marshal(map[string]any{"n": 42, "a": "x"})
	require.NoError(t, err)
	b, err := c.Marshal(map[string]any{"a": "x", "n": 42})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var out map[string]any
	require.NoError(t, c.Unmarshal(a, &out))
	assert.EqualValues(t, 42, out["n"])
	assert.Equal(t, "x", out["a"])
}

func TestProtoCodec(t *testing.T) {
	c := Proto()
	s, err := structpb.NewStruct(map[string]any{"k": "v"})
	require.NoError(t, err)
	b, err := c.Marshal(s)
	require.NoError(t, err)
	var out structpb.Struct
	require.NoError(t, c.Unmarshal(b, &out))
	assert.Equal(t, "v", out.Fields["k"].GetStringValue())

	_, err = c.Marshal(map[string]any{})
	assert.ErrorContains(t, err, "proto.Message")
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	for _, ct := range []string{"application/json", "application/cbor", "application/x-protobuf"} {
		assert.NotNil(t, r.Get(ct), ct)
	}
	assert.Nil(t, r.Get("text/plain"))
}
