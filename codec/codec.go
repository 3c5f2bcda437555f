// Package codec serializes parked query records for the parking tier.
// Any Codec[V] works; JSON is the default. CBOR and Msgpack are smaller,
// Protobuf produces a google.protobuf.Struct envelope readable by non-Go
// tooling.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
