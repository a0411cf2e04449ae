package api

import "github.com/fxamacker/cbor/v2"

// Encode serializes a wire type to CBOR.
func Encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// Decode deserializes CBOR into a wire type.
func Decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
