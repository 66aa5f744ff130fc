package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ToBool safely converts various types to boolean
// Handles bool, int, int64, float64, string ("1", "true", "yes", "on")
func ToBool(val interface{}) bool {
	if val == nil {
		return false
	}

	switch v := val.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case int32:
		return v != 0
	case float64:
		return v != 0
	case float32:
		return v != 0
	case []byte:
		return parseBoolString(string(v))
	case string:
		return parseBoolString(v)
	default:
		// Fallback: try string conversion
		str := fmt.Sprintf("%v", v)
		return parseBoolString(str)
	}
}

// parseBoolString parses boolean from string representation
func parseBoolString(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "1" || lower == "true" || lower == "yes" || lower == "on" || lower == "t" {
		return true
	}
	// Try strconv for edge cases
	if b, err := strconv.ParseBool(lower); err == nil {
		return b
	}
	return false
}

// ToStringSlice converts a decoded JSON value to a []string.
// JSON arrays arrive as []interface{}; values that are not arrays return nil.
func ToStringSlice(val interface{}) []string {
	switch v := val.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}

// FormatTextArray renders a []string as a Postgres text[] literal, e.g.
// {"a","b"}. Elements are always double-quoted with quotes and backslashes
// escaped, which is valid for any content including commas and braces.
func FormatTextArray(values []string) string {
	if len(values) == 0 {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteString("{")
	for i, v := range values {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`"`)
		escaped := strings.ReplaceAll(v, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		sb.WriteString(escaped)
		sb.WriteString(`"`)
	}
	sb.WriteString("}")
	return sb.String()
}

// ParseTextArray parses a Postgres text[] literal back into a []string.
// Handles quoted and unquoted elements, escaped quotes and backslashes,
// and NULL elements (returned as empty strings).
func ParseTextArray(literal string) []string {
	s := strings.TrimSpace(literal)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil
	}
	s = s[1 : len(s)-1]
	if s == "" {
		return []string{}
	}

	var out []string
	var cur strings.Builder
	inQuotes := false
	wasQuoted := false
	escaped := false

	flush := func() {
		val := cur.String()
		if !wasQuoted && val == "NULL" {
			val = ""
		}
		out = append(out, val)
		cur.Reset()
		wasQuoted = false
	}

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			cur.WriteByte(ch)
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			inQuotes = !inQuotes
			wasQuoted = true
		case ch == ',' && !inQuotes:
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return out
}
