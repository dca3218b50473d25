// Package structured extracts the JSON object that models embed in free text.
//
// Planner, reflector and tool router prompts all ask the model to answer "in
// JSON", and models wrap that JSON in prose, markdown fences or apologies. Parse
// locates the first balanced {...} region and decodes it. Anything else is
// returned as Raw so callers can fail open.
package structured

import (
	"encoding/json"
	"strings"
)

// Decision is the result of parsing a model response: either Structured
// fields or the Raw text when no usable object was found.
type Decision struct {
	Fields map[string]any
	Raw    string
}

// Structured reports whether the response carried a decodable object.
func (d Decision) Structured() bool { return d.Fields != nil }

// Parse never fails. A missing, unbalanced or undecodable object yields a
// Raw decision holding the full text.
func Parse(text string) Decision {
	obj, ok := ExtractObject(text)
	if !ok {
		return Decision{Raw: text}
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(obj), &fields); err != nil || fields == nil {
		return Decision{Raw: text}
	}
	return Decision{Fields: fields, Raw: text}
}

// ExtractObject returns the first balanced brace-delimited region of text.
// Braces inside JSON string literals do not count towards the balance.
func ExtractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
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
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// String returns the string field key, or "" when absent or not a string.
func (d Decision) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Float returns the numeric field key. Numbers encoded as strings are not accepted.
func (d Decision) Float(key string) (float64, bool) {
	f, ok := d.Fields[key].(float64)
	return f, ok
}

// Object returns the object field key, or nil.
func (d Decision) Object(key string) map[string]any {
	m, _ := d.Fields[key].(map[string]any)
	return m
}
