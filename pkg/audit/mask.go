package audit

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Masker redacts sensitive values before they are written to the audit
// log. Grounded on the teacher's masking.Masker interface
// (Name/AppliesTo/Mask), generalized from Kubernetes-secret structural
// masking to key-name and value-pattern masking over arbitrary JSON.
type Masker interface {
	Name() string
	AppliesTo(key string) bool
	Mask(value any) any
}

const redacted = "***"

var sensitiveKey = regexp.MustCompile(`(?i)password|token|api_key|authorization|cookie|phone|mobile|email`)

// fieldNameMasker redacts any value whose key matches the sensitive-field
// pattern, or whose key contains "token"/"secret", regardless of the
// value's shape.
type fieldNameMasker struct{}

func (fieldNameMasker) Name() string { return "field_name" }

func (fieldNameMasker) AppliesTo(key string) bool {
	lower := strings.ToLower(key)
	return sensitiveKey.MatchString(lower) || strings.Contains(lower, "token") || strings.Contains(lower, "secret")
}

func (fieldNameMasker) Mask(value any) any { return redacted }

var (
	emailPattern        = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	alphaNumericPattern = regexp.MustCompile(`^[a-zA-Z0-9]{16,}$`)
	hasLetter           = regexp.MustCompile(`[a-zA-Z]`)
	hasDigit            = regexp.MustCompile(`[0-9]`)
)

// valuePatternMasker redacts string values that look like an email
// address or a long mixed alphanumeric token, independent of key name.
type valuePatternMasker struct{}

func (valuePatternMasker) Name() string          { return "value_pattern" }
func (valuePatternMasker) AppliesTo(key string) bool { return true }

func (valuePatternMasker) Mask(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if emailPattern.MatchString(s) {
		return redacted
	}
	if alphaNumericPattern.MatchString(s) && hasLetter.MatchString(s) && hasDigit.MatchString(s) {
		return redacted
	}
	return value
}

var defaultMaskers = []Masker{fieldNameMasker{}, valuePatternMasker{}}

// MaskValue recursively masks a JSON-shaped value (map[string]any,
// []any, or scalar). key is the field name this value was found under in
// its parent object ("" for the root / array elements). Any other
// concrete type (structs such as posmodel.NormalizedOrder, pointers,
// etc.) is round-tripped through encoding/json into its generic
// map[string]any/[]any/scalar shape first, so nested fields are walked
// the same as if the caller had passed already-decoded JSON.
func MaskValue(key string, value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = maskField(k, val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = MaskValue(key, val)
		}
		return out
	case string, bool, float64, int, int64, json.Number:
		return applyValueMaskers(key, value)
	default:
		generic, ok := toGeneric(value)
		if !ok {
			return value
		}
		return MaskValue(key, generic)
	}
}

// toGeneric marshals an arbitrary value to JSON and unmarshals it back
// into its generic map[string]any/[]any/scalar shape. Returns ok=false
// if value isn't JSON-marshalable, in which case callers should leave it
// untouched rather than dropping it.
func toGeneric(value any) (any, bool) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false
	}
	return generic, true
}

func maskField(key string, value any) any {
	for _, m := range defaultMaskers {
		if _, ok := m.(fieldNameMasker); ok && m.AppliesTo(key) {
			return m.Mask(value)
		}
	}
	return MaskValue(key, value)
}

func applyValueMaskers(key string, value any) any {
	for _, m := range defaultMaskers {
		if _, ok := m.(valuePatternMasker); ok {
			value = m.Mask(value)
		}
	}
	return value
}
