// ABOUTME: Derivation of fulltext index field names from JSON projections
// ABOUTME: Leaf paths below each top-level object, prefixed with the json attribute

package index

import (
	"sort"

	"github.com/nainya/metastore/pkg/docstore"
)

// FieldPrefix is the attribute holding a section's projection.
const FieldPrefix = "json."

// DeriveFields lists the searchable leaf paths of projection, sorted and
// without duplicates. Objects are traversed but not emitted; arrays are
// traversed through their object elements and emitted only when they hold
// no objects. Empty keys add no path segment, and dots inside a key are
// escaped so docstore.Lookup resolves the key as one segment.
func DeriveFields(projection map[string]any) []string {
	set := make(map[string]struct{})
	for key, v := range projection {
		if obj, ok := v.(map[string]any); ok {
			walkObject(appendSegment(nil, key), obj, set)
		}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func appendSegment(path []string, key string) []string {
	if key == "" {
		return path
	}
	return append(path[:len(path):len(path)], key)
}

func walkObject(path []string, obj map[string]any, set map[string]struct{}) {
	for key, v := range obj {
		walkValue(appendSegment(path, key), v, set)
	}
}

func walkValue(path []string, v any, set map[string]struct{}) {
	switch val := v.(type) {
	case map[string]any:
		walkObject(path, val, set)
	case []any:
		holdsObject := false
		for _, item := range val {
			if obj, ok := item.(map[string]any); ok {
				holdsObject = true
				walkObject(path, obj, set)
			}
		}
		if !holdsObject {
			emit(path, set)
		}
	default:
		emit(path, set)
	}
}

func emit(path []string, set map[string]struct{}) {
	if len(path) == 0 {
		return
	}
	set[FieldPrefix+docstore.FieldPath(path...)] = struct{}{}
}
