// ABOUTME: Search provider contract and shared query term normalization
// ABOUTME: Providers receive section projections and answer term queries with object ids

package search

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// MinTermLength is the shortest term, in runes, kept by Terms.
const MinTermLength = 3

// Query asks for objects whose indexed sections contain the terms.
type Query struct {
	Terms []string
	// Prefixes restricts matching to sections of these registry prefixes.
	// Empty means every prefix.
	Prefixes []string
	// Any switches from conjunction to disjunction of terms.
	Any bool
	// MaxHits bounds the number of returned ids. Zero means the provider cap.
	MaxHits int
}

// Provider is an external search engine fed with section projections.
type Provider interface {
	// Index stores jsonDoc for the section of documentID with the given
	// registry prefix. The boolean reports whether the provider accepted it.
	Index(ctx context.Context, jsonDoc, documentID, prefix string) (bool, error)
	// Search returns matching digital object ids without duplicates.
	Search(ctx context.Context, q Query) ([]string, error)
	Close() error
}

// Terms case-folds text, splits it on every rune that is neither a letter
// nor a digit and keeps the distinct words of at least MinTermLength runes,
// in order of first appearance.
func Terms(text ...string) []string {
	fold := cases.Fold()
	seen := make(map[string]struct{})
	var out []string
	for _, t := range text {
		words := strings.FieldsFunc(fold.String(t), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			if len([]rune(w)) < MinTermLength {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

// DocumentID joins an object id and a prefix into a provider document id.
func DocumentID(digitalObjectID, prefix string) string {
	return digitalObjectID + "_" + prefix
}

// SplitDocumentID recovers the object id from a provider document id. The id
// ends at the last underscore, since prefixes never contain one.
func SplitDocumentID(id string) string {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		return id[:i]
	}
	return id
}
