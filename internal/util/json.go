package util

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON marshals a value to JSON and returns the bytes and any error.
// This eliminates repeated json.Marshal calls with error handling.
func MarshalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("JSON marshal error: %w", err)
	}
	return data, nil
}

// UnmarshalJSON unmarshals JSON bytes into a value.
// This provides consistent error handling for JSON unmarshaling.
func UnmarshalJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("JSON unmarshal error: %w", err)
	}
	return nil
}

// ToPayload converts a JSON-marshalable value into the loosely-typed
// map shape used by the transport event protocol.
func ToPayload(v interface{}) (map[string]interface{}, error) {
	data, err := MarshalJSON(v)
	if err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := UnmarshalJSON(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
