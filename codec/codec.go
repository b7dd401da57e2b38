// Package codec defines value (de)serialization for duraref. Codec output is
// wrapped in the library's textual envelope before hitting the store, so
// binary codecs (Msgpack, CBOR, Protobuf) are fine.
//
// A Codec must round-trip: Decode(Encode(v)) must yield a value equal to v
// for every value the application stores, and the encoding must be stable
// across restarts and across different readers of the same store.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
