package domain

import (
	"bytes"
	"encoding/json"
)

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// IsJSONArray reports whether raw is a syntactically valid JSON array.
func IsJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '[' && json.Valid(trimmed)
}

// IsJSONObject reports whether raw is a syntactically valid JSON object.
func IsJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// Truthy reports whether raw holds a value a loosely typed client would treat as
// set: null, false, numeric zero and the empty string are falsy, everything else
// (including empty arrays and objects) is truthy.
func Truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch trimmed[0] {
	case 'n', 'f':
		return false
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return false
		}
		return s != ""
	case '[', '{', 't':
		return true
	}
	var n float64
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return false
	}
	return n != 0
}
