package anonymizer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Line is one transcript utterance.
type Line struct {
	Time    string
	User    string
	Content string
}

// Anonymize walks the transcript in order, assigning each first-seen
// display name a pseudonym, and renders "[pseudonym | time] content"
// lines. The maps are exact and case-sensitive on the display name.
func Anonymize(lines []Line) (string, map[string]string, map[string]string) {
	forward := make(map[string]string)
	reverse := make(map[string]string)

	var b strings.Builder
	for _, line := range lines {
		pseudonym, ok := forward[line.User]
		if !ok {
			pseudonym = pseudonymFor(len(forward))
			forward[line.User] = pseudonym
			reverse[pseudonym] = line.User
		}
		b.WriteString(fmt.Sprintf("[%s | %s] %s\n", pseudonym, line.Time, line.Content))
	}
	return b.String(), forward, reverse
}

// pseudonymFor names the n-th distinct speaker: letters through Z, then
// 1-based numbers ({Speaker 27} for the 27th).
func pseudonymFor(n int) string {
	if n < 26 {
		return fmt.Sprintf("{Speaker %c}", 'A'+rune(n))
	}
	return fmt.Sprintf("{Speaker %d}", n+1)
}

// Restore substitutes pseudonyms back to real names, longest key first
// so that {Speaker AA} never loses a suffix to {Speaker A}. Unmatched
// text passes through unchanged.
func Restore(text string, reverse map[string]string) string {
	if len(reverse) == 0 || text == "" {
		return text
	}
	keys := make([]string, 0, len(reverse))
	for key := range reverse {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		text = strings.ReplaceAll(text, key, reverse[key])
	}
	return text
}

// RestoreJSON restores every string value inside a JSON document,
// leaving keys and structure intact.
func RestoreJSON(doc string, reverse map[string]string) string {
	if len(reverse) == 0 || !gjson.Valid(doc) {
		return Restore(doc, reverse)
	}
	out := doc
	for _, path := range stringPaths(gjson.Parse(doc), "") {
		value := gjson.Get(out, path).String()
		restored := Restore(value, reverse)
		if restored == value {
			continue
		}
		if updated, err := sjson.Set(out, path, restored); err == nil {
			out = updated
		}
	}
	return out
}

func stringPaths(value gjson.Result, prefix string) []string {
	var paths []string
	index := 0
	value.ForEach(func(key, child gjson.Result) bool {
		path := key.String()
		if value.IsArray() {
			path = strconv.Itoa(index)
			index++
		}
		if prefix != "" {
			path = prefix + "." + path
		}
		switch {
		case child.IsObject() || child.IsArray():
			paths = append(paths, stringPaths(child, path)...)
		case child.Type == gjson.String:
			paths = append(paths, path)
		}
		return true
	})
	return paths
}
