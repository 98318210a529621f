package types

import (
	"encoding/json"
	"fmt"
)

// Codec turns a typed extension payload into the opaque bytes kept on ResourceState.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extensions: %w", err)
	}
	return data, nil
}

// Decode returns the zero value for an empty payload.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode extensions: %w", err)
	}
	return v, nil
}
