package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// StripFence removes a leading/trailing markdown code fence. Models
// return fenced JSON despite instructions, so callers strip before
// parsing.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = s[3:]
	// Drop the language tag on the fence line, e.g. ```json.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first == "" || isFenceTag(first) {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "```") {
		s = s[:len(s)-3]
	}
	return strings.TrimSpace(s)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// Normalize prepares raw model output for structured parsing: the fence
// is stripped, and a top-level array is unwrapped to its first element
// (an empty array becomes "{}"). The boolean reports whether the result
// is a JSON object.
func Normalize(raw string) (string, bool) {
	s := StripFence(raw)
	if !gjson.Valid(s) {
		return s, false
	}
	v := gjson.Parse(s)
	if v.IsArray() {
		arr := v.Array()
		if len(arr) == 0 {
			return "{}", true
		}
		first := arr[0]
		if !first.IsObject() {
			return s, false
		}
		return first.Raw, true
	}
	if !v.IsObject() {
		return s, false
	}
	return s, true
}
