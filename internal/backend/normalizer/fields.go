package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// leadingNumber matches the numeric prefix of a string such as "0.6" in "0.6 (approx)".
var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// fieldPath addresses a value inside the submitted fields; nested objects are
// walked one key per element.
type fieldPath []string

func (p fieldPath) String() string {
	return strings.Join(p, ".")
}

// lookup walks the path through nested maps. Intermediate values that are
// JSON-encoded strings (as multipart text fields are) are decoded on the way.
func lookup(fields map[string]any, path fieldPath) (any, bool) {
	var current any = fields
	for _, key := range path {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// firstPresent returns the first value along paths that is neither missing,
// null nor an empty string.
func firstPresent(fields map[string]any, paths []fieldPath) (any, fieldPath, bool) {
	for _, path := range paths {
		value, ok := lookup(fields, path)
		if !ok || isEmpty(value) {
			continue
		}
		return value, path, true
	}
	return nil, nil, false
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

// asMap accepts decoded JSON objects as well as strings holding a JSON object.
func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") {
			return nil, false
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return nil, false
		}
		return decoded, true
	default:
		return nil, false
	}
}

// asString renders scalar values as text; objects and arrays are rejected.
func asString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int, int64, bool:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}

// asFloat coerces the literal value to a finite float. Strings are parsed
// leniently: the leading numeric prefix is used when the whole string is not
// a number.
func asFloat(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			prefix := leadingNumber.FindString(s)
			if prefix == "" {
				return 0, false
			}
			parsed, err = strconv.ParseFloat(prefix, 64)
			if err != nil {
				return 0, false
			}
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
