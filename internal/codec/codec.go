// Package codec turns job payloads into their stored representation and back.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrDecode marks a stored payload that does not decode to the expected shape
var ErrDecode = errors.New("payload decode failed")

// Codec encodes and decodes payloads of type T
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSON encodes payloads with encoding/json
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

func (JSON[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

// Proto encodes protobuf messages. New must return an empty message to decode into.
type Proto[T proto.Message] struct {
	New func() T
}

func (c Proto[T]) Encode(v T) ([]byte, error) {
	data, err := proto.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

func (c Proto[T]) Decode(data []byte) (T, error) {
	v := c.New()
	if err := proto.Unmarshal(data, v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

// Struct takes JSON object payloads and stores them as binary
// google.protobuf.Struct messages. Numbers decode as JSON floats.
type Struct struct {
	wire Proto[*structpb.Struct]
}

var _ Codec[json.RawMessage] = Struct{}

// NewStruct returns the JSON-to-protobuf payload codec
func NewStruct() Struct {
	return Struct{wire: Proto[*structpb.Struct]{New: func() *structpb.Struct { return &structpb.Struct{} }}}
}

func (c Struct) Encode(v json.RawMessage) ([]byte, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(v, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return c.wire.Encode(msg)
}

func (c Struct) Decode(data []byte) (json.RawMessage, error) {
	msg, err := c.wire.Decode(data)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(msg.AsMap())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, nil
}
