package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedOutput is returned when the backend's response contains no
// recoverable JSON object, or the object fails to parse. It is fatal for
// the stage that hit it; there are no retries.
var ErrMalformedOutput = errors.New("malformed upstream output")

// FirstJSONObject scans s for the first balanced {...} span and returns it.
// Leading and trailing prose is tolerated. The scan is string- and
// escape-aware so braces inside JSON strings do not unbalance the depth
// count, and nested objects are returned whole.
func FirstJSONObject(s string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON object in response", ErrMalformedOutput)
	}
	return "", fmt.Errorf("%w: unterminated JSON object in response", ErrMalformedOutput)
}

// ParseObject extracts the first JSON object from raw upstream text and
// decodes it into a key → raw-value map for required-key checks.
func ParseObject(raw string) (map[string]json.RawMessage, error) {
	span, err := FirstJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return obj, nil
}

// RequireKeys verifies all keys are present and non-null in obj.
func RequireKeys(obj map[string]json.RawMessage, keys ...string) error {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || string(v) == "null" {
			return fmt.Errorf("%w: missing required key %q", ErrMalformedOutput, k)
		}
	}
	return nil
}
