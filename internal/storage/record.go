package storage

import (
	"encoding/json"
	"fmt"

	"resourcewatch/internal/types"
)

// EncodeState is the JSON record format shared by the key-value backends.
func EncodeState(st types.ResourceState) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state %s/%s: %w", st.Tenant, st.ResourceID, err)
	}
	return data, nil
}

func DecodeState(data []byte) (types.ResourceState, error) {
	var st types.ResourceState
	if err := json.Unmarshal(data, &st); err != nil {
		return types.ResourceState{}, fmt.Errorf("failed to decode state: %w", err)
	}
	if len(st.Extensions) == 0 {
		st.Extensions = nil
	}
	return st, nil
}
