// Package codec provides the payload codecs used for bridge control bodies
// and persisted state snapshots.
package codec

import (
	"encoding/json"

	cbor "github.com/fxamacker/cbor/v2"
)

// Content types understood by the registry.
const (
	ContentJSON = "application/json"
	ContentCBOR = "application/cbor"
)

// Codec marshals typed values. Implementations must be deterministic so
// encoded bodies can be compared and exchanged across processes.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct {
	byType map[string]Codec
}

// NewRegistry returns a registry holding the JSON and CBOR codecs.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(CBOR())
	return r
}

// Register adds a codec, replacing any previous one for the same type.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns the codec for a content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

type jsonCodec struct{}

// JSON returns the JSON codec (RFC 8259).
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string             { return ContentJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns the canonical CBOR codec (RFC 8949 core deterministic
// profile), so equal values always encode to equal bytes.
func CBOR() Codec {
	// the canonical options are statically valid, mode construction cannot
	// fail on them
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: em, dec: dm}
}

func (c cborCodec) ContentType() string             { return ContentCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error)   { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(b []byte, v any) error { return c.dec.Unmarshal(b, v) }
