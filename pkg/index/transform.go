// ABOUTME: Per-prefix rewriting of section bodies before they reach the search provider
// ABOUTME: PathFilter drops the elements selected by etree paths

package index

import (
	"context"

	"github.com/beevik/etree"
	"github.com/juju/errors"

	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/xmldoc"
)

// Transformer rewrites a section body for the search provider.
type Transformer interface {
	Transform(ctx context.Context, body string) (string, error)
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(ctx context.Context, body string) (string, error)

// Transform calls f.
func (f TransformFunc) Transform(ctx context.Context, body string) (string, error) {
	return f(ctx, body)
}

// PathFilter removes every element matched by one of its paths. Paths use
// etree syntax with the prefixes written in the section, e.g. "//mods:note".
// The root element itself is never removed.
type PathFilter struct {
	paths []etree.Path
}

// NewPathFilter compiles paths. An invalid path is an InvalidDocument error.
func NewPathFilter(paths ...string) (*PathFilter, error) {
	f := &PathFilter{}
	for _, p := range paths {
		compiled, err := etree.CompilePath(p)
		if err != nil {
			return nil, errors.Annotatef(metaerrors.InvalidDocument, "path %q: %v", p, err)
		}
		f.paths = append(f.paths, compiled)
	}
	return f, nil
}

// Transform returns body without the matched elements.
func (f *PathFilter) Transform(_ context.Context, body string) (string, error) {
	doc, err := xmldoc.Parse(body)
	if err != nil {
		return "", err
	}
	root := doc.Root()
	for _, p := range f.paths {
		for _, el := range doc.FindElementsPath(p) {
			if el == root {
				continue
			}
			if parent := el.Parent(); parent != nil {
				parent.RemoveChild(el)
			}
		}
	}
	return xmldoc.WriteElement(root)
}
