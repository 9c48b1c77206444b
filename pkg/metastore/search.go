package metastore

import (
	"context"
	"encoding/xml"
	"sort"
	"strings"

	"github.com/juju/errors"

	"github.com/nainya/metastore/pkg/docstore"
	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/mets"
	"github.com/nainya/metastore/pkg/search"
	"github.com/nainya/metastore/pkg/xmldoc"
)

// DefaultMaxHits bounds a search that does not set its own limit.
const DefaultMaxHits = 100

// SearchRequest is a term search over section content.
type SearchRequest struct {
	Terms []string
	// Prefixes restricts the search to sections of these registry prefixes.
	Prefixes []string
	// Any matches objects containing at least one term instead of all.
	Any     bool
	MaxHits int
	// Short returns object ids instead of recomposed documents.
	Short  bool
	Format mets.Format
}

// Search finds digital objects whose sections contain the request terms and
// renders them in the requested format.
func (s *Service) Search(ctx context.Context, req SearchRequest) (string, error) {
	if req.MaxHits <= 0 {
		req.MaxHits = DefaultMaxHits
	}
	ids, err := s.SearchIDs(ctx, req)
	if err != nil {
		return "", err
	}
	out, err := s.renderHits(ctx, ids, req)
	if err != nil {
		return "", err
	}
	s.observer.SearchCompleted(len(ids))
	return out, nil
}

// SearchIDs returns the matching digital object ids, at most req.MaxHits of
// them when it is positive.
func (s *Service) SearchIDs(ctx context.Context, req SearchRequest) ([]string, error) {
	terms := search.Terms(req.Terms...)
	if len(terms) == 0 {
		return nil, errors.Annotate(metaerrors.InvalidDocument, "no search term of at least 3 characters")
	}
	for _, p := range req.Prefixes {
		if _, err := s.registry.ResolveNamespace(ctx, p); err != nil {
			return nil, err
		}
	}

	var (
		ids []string
		err error
	)
	if s.provider != nil {
		ids, err = s.provider.Search(ctx, search.Query{
			Terms:    terms,
			Prefixes: req.Prefixes,
			Any:      req.Any,
			MaxHits:  req.MaxHits,
		})
	} else {
		ids, err = s.fallbackSearch(ctx, terms, req)
	}
	if err != nil {
		return nil, errors.Annotate(err, "search")
	}
	if req.MaxHits > 0 && len(ids) > req.MaxHits {
		ids = ids[:req.MaxHits]
	}
	s.logger.Debug().Strs("terms", terms).Int("hits", len(ids)).Msg("search")
	return ids, nil
}

// fallbackSearch answers from the store's fulltext indexes. A term matches
// an object when any indexed field of any of its sections matches.
func (s *Service) fallbackSearch(ctx context.Context, terms []string, req SearchRequest) ([]string, error) {
	fields, err := s.store.FulltextIndexes(ctx)
	if err != nil {
		return nil, err
	}
	namespaces := make(map[string]struct{}, len(req.Prefixes))
	for _, p := range req.Prefixes {
		ns, err := s.registry.ResolveNamespace(ctx, p)
		if err != nil {
			return nil, err
		}
		namespaces[ns] = struct{}{}
	}

	parents := make(map[string]string)
	var result map[string]struct{}
	for i, term := range terms {
		matched := make(map[string]struct{})
		for _, field := range fields {
			keys, err := s.store.FulltextSearch(ctx, field, term)
			if err != nil {
				return nil, err
			}
			for _, key := range keys {
				parent, ok, err := s.sectionParent(ctx, key, namespaces, parents)
				if err != nil {
					return nil, err
				}
				if ok {
					matched[parent] = struct{}{}
				}
			}
		}
		switch {
		case i == 0:
			result = matched
		case req.Any:
			for id := range matched {
				result[id] = struct{}{}
			}
		default:
			for id := range result {
				if _, ok := matched[id]; !ok {
					delete(result, id)
				}
			}
		}
	}

	ids := make([]string, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// sectionParent maps a matched record key to its object id. Records that are
// not sections, or whose type is filtered out, report false. Resolved keys
// are remembered in seen; an empty value marks a rejected key.
func (s *Service) sectionParent(ctx context.Context, key string, namespaces map[string]struct{}, seen map[string]string) (string, bool, error) {
	if parent, ok := seen[key]; ok {
		return parent, parent != "", nil
	}
	rec, err := s.store.Get(ctx, key)
	if errors.Is(err, metaerrors.NotFound) {
		seen[key] = ""
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	parent := ""
	if rec.String(docstore.AttrKind) == docstore.KindSection {
		if _, ok := namespaces[rec.String(docstore.AttrType)]; ok || len(namespaces) == 0 {
			parent = rec.String(mets.AttrParentID)
		}
	}
	seen[key] = parent
	return parent, parent != "", nil
}

func (s *Service) renderHits(ctx context.Context, ids []string, req SearchRequest) (string, error) {
	if req.Short {
		if req.Format == mets.FormatJSON {
			out := make([]any, 0, len(ids))
			for _, id := range ids {
				out = append(out, map[string]any{mets.AttrDigitalObjectID: id})
			}
			return xmldoc.EncodeJSON(out)
		}
		items := make([]string, 0, len(ids))
		for _, id := range ids {
			var b strings.Builder
			if err := xml.EscapeText(&b, []byte(id)); err != nil {
				return "", errors.Trace(err)
			}
			items = append(items, "<"+mets.AttrDigitalObjectID+">"+b.String()+"</"+mets.AttrDigitalObjectID+">")
		}
		return renderXMLArray(items), nil
	}

	docs := make([]string, 0, len(ids))
	for _, id := range ids {
		doc, err := s.GetDocument(ctx, id, req.Format)
		if errors.Is(err, metaerrors.NotFound) {
			// Provider results may lag behind the store.
			s.logger.Debug().Str("id", id).Msg("search hit without stored document")
			continue
		}
		if err != nil {
			return "", err
		}
		docs = append(docs, doc)
	}
	if req.Format == mets.FormatJSON {
		return "[" + strings.Join(docs, ",") + "]", nil
	}
	return renderXMLArray(docs), nil
}
