package store

import (
	"errors"
	"fmt"
	"math"
	"unicode"
)

var (
	// ErrInvalidKey rejects record keys the store cannot address.
	ErrInvalidKey = errors.New("store: invalid record key")
	// ErrInvalidField rejects field names or values outside the wire model.
	ErrInvalidField = errors.New("store: invalid field")
)

const (
	maxKeyLen   = 128
	maxFieldLen = 256
	maxDepth    = 8
)

// ValidateKey checks a record key against the store's addressing rules. Keys
// become path segments in the embedded backend and topic strings in fan-out,
// so separators and control characters are rejected outright.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > maxKeyLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidKey, len(key), maxKeyLen)
	}
	for _, r := range key {
		if r == '/' || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

func validateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidField)
	}
	if len(name) > maxFieldLen {
		return fmt.Errorf("%w: name %d bytes exceeds %d", ErrInvalidField, len(name), maxFieldLen)
	}
	for _, r := range name {
		if r == '/' || unicode.IsControl(r) {
			return fmt.Errorf("%w: name %q", ErrInvalidField, name)
		}
	}
	return nil
}

// SanitizeRecord validates a partial update and returns a normalized copy.
// Values must be JSON-representable: nil, strings, bools, finite numbers,
// and nested arrays or objects of the same. Integer types are widened to
// float64 so a value compares and serializes identically on every backend.
func SanitizeRecord(rec Record) (Record, error) {
	out := make(Record, len(rec))
	for name, value := range rec {
		if err := validateFieldName(name); err != nil {
			return nil, err
		}
		norm, err := normalizeValue(value, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidField, name, err)
		}
		out[name] = norm
	}
	return out, nil
}

func normalizeValue(value any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, errors.New("nesting too deep")
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case bool:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite number %v", v)
		}
		return v, nil
	case float32:
		return normalizeValue(float64(v), depth)
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			norm, err := normalizeValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			norm, err := normalizeValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = norm
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}
