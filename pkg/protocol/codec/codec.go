// Package codec marshals the typed bodies of protocol frames.
package codec

import "fmt"

// Codec marshals typed messages. Implementations are deterministic so the
// same value always yields the same bytes.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry returns a registry holding JSON, CBOR and Protobuf.
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	c, err := CBOR()
	if err != nil {
		return nil, fmt.Errorf("codec: cbor: %w", err)
	}
	r.Register(c)
	return r, nil
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns the codec for a content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }
