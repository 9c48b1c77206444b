// ABOUTME: Attribute path lookup and word-prefix matching for fulltext search
// ABOUTME: Shared by backends that cannot evaluate fulltext queries natively

package docstore

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// FieldPath joins attribute names into a dotted path. Dots and backslashes
// inside a name are escaped with a backslash.
func FieldPath(names ...string) string {
	escaped := make([]string, len(names))
	for i, n := range names {
		escaped[i] = pathEscaper.Replace(n)
	}
	return strings.Join(escaped, ".")
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, ".", `\.`)

// SplitPath is the inverse of FieldPath.
func SplitPath(path string) []string {
	var (
		parts []string
		cur   strings.Builder
	)
	for i := 0; i < len(path); i++ {
		switch c := path[i]; {
		case c == '\\' && i+1 < len(path):
			i++
			cur.WriteByte(path[i])
		case c == '.':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(parts, cur.String())
}

// Escaped reports whether path holds a name with an escaped character, so
// that backends cannot hand it to a native dotted-path query.
func Escaped(path string) bool {
	return strings.ContainsRune(path, '\\')
}

// Lookup resolves a FieldPath against attrs. Arrays met along the way fan
// out, so the result may hold several values.
func Lookup(attrs map[string]any, path string) []any {
	return lookup(attrs, SplitPath(path))
}

func lookup(v any, parts []string) []any {
	if arr, ok := v.([]any); ok {
		var out []any
		for _, item := range arr {
			out = append(out, lookup(item, parts)...)
		}
		return out
	}
	if len(parts) == 0 {
		return []any{v}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	next, ok := obj[parts[0]]
	if !ok {
		return nil
	}
	return lookup(next, parts[1:])
}

// Matcher tests values for a word starting with a term. A Matcher is not
// safe for concurrent use; create one per search.
type Matcher struct {
	fold cases.Caser
	term string
}

// NewMatcher prepares a case-folded matcher for term.
func NewMatcher(term string) *Matcher {
	fold := cases.Fold()
	return &Matcher{fold: fold, term: fold.String(strings.TrimSpace(term))}
}

// Match reports whether any string leaf in values holds a word with the
// matcher's term as prefix.
func (m *Matcher) Match(values []any) bool {
	if m.term == "" {
		return false
	}
	for _, v := range values {
		if m.matchValue(v) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchValue(v any) bool {
	switch val := v.(type) {
	case string:
		for _, word := range Words(m.fold.String(val)) {
			if strings.HasPrefix(word, m.term) {
				return true
			}
		}
	case []any:
		return m.Match(val)
	case map[string]any:
		for _, inner := range val {
			if m.matchValue(inner) {
				return true
			}
		}
	}
	return false
}

// Words splits s on every rune that is neither a letter nor a digit.
func Words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
