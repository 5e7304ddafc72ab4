// Package rubric normalizes rubric labels stored in the question pool.
//
// Rubrics were written in several shapes over time: a JSON-encoded string,
// a native array of strings, a single bare string, or an array of
// {"S": "..."} tagged values left over from an attribute-value store export.
// Every reader goes through Normalize so callers only ever see an ordered
// list of trimmed, non-empty labels.
package rubric

import (
	"encoding/json"
	"strings"
)

// Normalize converts a decoded rubric value of any historical shape into an
// ordered list of trimmed, non-empty labels. Unrecognized shapes yield an
// empty, non-nil slice; it never fails.
func Normalize(raw any) []string {
	switch v := raw.(type) {
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return single(v)
		}
		switch p := parsed.(type) {
		case []any:
			return fromArray(p)
		case string:
			return single(p)
		default:
			return []string{}
		}
	case []any:
		return fromArray(v)
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = appendTrimmed(out, s)
		}
		return out
	default:
		return []string{}
	}
}

// NormalizeRaw decodes a stored JSON value and normalizes it. Invalid JSON
// yields an empty list.
func NormalizeRaw(b []byte) []string {
	if len(b) == 0 {
		return []string{}
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return []string{}
	}
	return Normalize(v)
}

// NormalizeAxisMap converts an axis -> rubric labels mapping. The value may be
// an object or a JSON-encoded object; each category's labels go through
// Normalize. Anything else yields an empty, non-nil map.
func NormalizeAxisMap(raw any) map[string][]string {
	if s, ok := raw.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return map[string][]string{}
		}
		raw = parsed
	}
	out := map[string][]string{}
	switch m := raw.(type) {
	case map[string]any:
		for axis, labels := range m {
			out[axis] = Normalize(labels)
		}
	case map[string][]string:
		for axis, labels := range m {
			out[axis] = Normalize(labels)
		}
	}
	return out
}

// NormalizeAxisMapRaw is NormalizeAxisMap over a stored JSON value.
func NormalizeAxisMapRaw(b []byte) map[string][]string {
	if len(b) == 0 {
		return map[string][]string{}
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return map[string][]string{}
	}
	return NormalizeAxisMap(v)
}

func fromArray(items []any) []string {
	out := make([]string, 0, len(items))
	if len(items) > 0 {
		if first, ok := items[0].(map[string]any); ok {
			if _, tagged := first["S"]; tagged {
				for _, it := range items {
					m, ok := it.(map[string]any)
					if !ok {
						continue
					}
					if s, ok := m["S"].(string); ok {
						out = appendTrimmed(out, s)
					}
				}
				return out
			}
		}
	}
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = appendTrimmed(out, s)
		}
	}
	return out
}

func single(s string) []string {
	return appendTrimmed([]string{}, s)
}

func appendTrimmed(out []string, s string) []string {
	if t := strings.TrimSpace(s); t != "" {
		out = append(out, t)
	}
	return out
}
