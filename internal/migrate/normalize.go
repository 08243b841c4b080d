package migrate

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// richContentThreshold is the numeric key count above which a reassembled
// object is treated as a serialized HTML string.
const richContentThreshold = 50

// NormalizeValue undoes the legacy store's habit of saving strings as
// objects indexed by character position.
//
// A non-empty object whose keys are all non-negative integers is replaced by
// the concatenation of its values in numeric key order ("10" sorts after
// "2"). Every other object and array is walked recursively.
//
//	NormalizeValue(map[string]any{"0": "a", "2": "c", "1": "b"}) == "abc"
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if keys, ok := numericKeys(t); ok {
			return concatValues(t, keys)
		}
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = NormalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = NormalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

// NormalizeRichContent returns the canonical rich content form:
//
//   - a string becomes {"html": s}
//   - an object with more than 50 numeric keys becomes
//     {"html": <concatenation>} plus its non-numeric keys, normalized
//   - anything else is passed through NormalizeValue unwrapped
//
// nil stays nil.
func NormalizeRichContent(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return map[string]any{"html": t}
	case map[string]any:
		numeric, rest := splitNumeric(t)
		if len(numeric) > richContentThreshold {
			out := map[string]any{"html": concatValues(t, numeric)}
			for _, k := range rest {
				if k == "html" {
					continue
				}
				out[k] = NormalizeValue(t[k])
			}
			return out
		}
		return NormalizeValue(t)
	default:
		return NormalizeValue(v)
	}
}

// numericKeys returns the keys of m sorted numerically when every key is a
// non-negative integer.
func numericKeys(m map[string]any) ([]string, bool) {
	if len(m) == 0 {
		return nil, false
	}
	numeric, rest := splitNumeric(m)
	if len(rest) > 0 {
		return nil, false
	}
	return numeric, true
}

// splitNumeric partitions the keys of m into numerically sorted integer
// keys and the remaining keys.
func splitNumeric(m map[string]any) (numeric, rest []string) {
	for k := range m {
		if isIndex(k) {
			numeric = append(numeric, k)
		} else {
			rest = append(rest, k)
		}
	}
	sort.Slice(numeric, func(i, j int) bool {
		a, _ := strconv.Atoi(numeric[i])
		b, _ := strconv.Atoi(numeric[j])
		return a < b
	})
	sort.Strings(rest)
	return numeric, rest
}

func isIndex(k string) bool {
	if k == "" || len(k) > 9 {
		return false
	}
	for _, r := range k {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func concatValues(m map[string]any, keys []string) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(stringify(NormalizeValue(m[k])))
	}
	return b.String()
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
