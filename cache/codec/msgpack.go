package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack trades JSON's inspectability for compact binary payloads; use it
// when cache bandwidth matters more than redis-cli readability. Field
// selection follows `msgpack` struct tags, which the tracker's record types
// carry alongside their json tags. The zero value is ready to use.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) { return msgpack.Marshal(v) }
func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
