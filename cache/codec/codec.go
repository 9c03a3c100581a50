// Package codec (de)serializes cached values to the byte payloads the cache
// backends store. The coordinator picks a codec per value type; backends only
// ever see the encoded bytes.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
