package domain

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Payload is the opaque document a stage produces. The executor never
// looks inside it; stages use the accessors to read their predecessors.
type Payload map[string]interface{}

// String returns the string stored under key, or "" if absent or not a string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

// Float returns the numeric value stored under key.
func (p Payload) Float(key string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Strings returns the string slice stored under key. Both []string and
// []interface{} (as produced by JSON decoding) are accepted.
func (p Payload) Strings(key string) []string {
	if p == nil {
		return nil
	}
	switch v := p[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns the nested payload stored under key.
func (p Payload) Map(key string) Payload {
	if p == nil {
		return nil
	}
	switch v := p[key].(type) {
	case Payload:
		return v
	case map[string]interface{}:
		return Payload(v)
	default:
		return nil
	}
}

// Decode copies the payload into out, a pointer to a struct with json tags.
func (p Payload) Decode(out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := dec.Decode(map[string]interface{}(p)); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
