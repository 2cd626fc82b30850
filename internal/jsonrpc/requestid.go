package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RequestID is a JSON-RPC id. It keeps the exact bytes the peer sent so the
// reply echoes them back verbatim, including number formatting.
type RequestID struct {
	raw json.RawMessage
}

// String renders the id for logs: strings unquoted, numbers as sent.
func (id *RequestID) String() string {
	if id.IsNil() {
		return ""
	}
	var s string
	if err := json.Unmarshal(id.raw, &s); err == nil {
		return s
	}
	return string(id.raw)
}

// IsNil reports whether the id is absent.
func (id *RequestID) IsNil() bool {
	return id == nil || len(id.raw) == 0
}

// Equal reports whether two ids carry the same bytes.
func (id *RequestID) Equal(other *RequestID) bool {
	if id.IsNil() || other.IsNil() {
		return id.IsNil() && other.IsNil()
	}
	return bytes.Equal(id.raw, other.raw)
}

// MarshalJSON implements json.Marshaler. A nil id encodes as null.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler, accepting strings and numbers.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("JSON-RPC ID must be a string or number, got nothing")
	}

	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("JSON-RPC ID: %w", err)
		}
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("JSON-RPC ID: %w", err)
		}
	default:
		return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", data)
	}

	id.raw = append(json.RawMessage(nil), data...)
	return nil
}
