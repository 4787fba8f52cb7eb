package callz

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes a value of type T to bytes using msgpack encoding.
func Encode[T any](value T) ([]byte, error) {
	return msgpack.Marshal(value)
}

// Decode deserializes bytes into a value of type T using msgpack decoding.
func Decode[T any](data []byte) (T, error) {
	var value T
	err := msgpack.Unmarshal(data, &value)
	return value, err
}

// MsgpackSerializer encodes the operation input as a msgpack document.
func MsgpackSerializer[In any]() SerializerFunc[In, []byte] {
	return func(_ context.Context, in In) ([]byte, error) {
		return Encode(in)
	}
}

// MsgpackDeserializer decodes a msgpack response body into the output.
func MsgpackDeserializer[Out any]() DeserializerFunc[[]byte, Out] {
	return func(_ context.Context, body []byte) (Out, error) {
		return Decode[Out](body)
	}
}
