// ABOUTME: Best-effort maintenance of store fulltext indexes and search provider
// ABOUTME: Failures are logged and reported through hooks, never returned

package index

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nainya/metastore/pkg/docstore"
	"github.com/nainya/metastore/pkg/search"
	"github.com/nainya/metastore/pkg/xmldoc"
)

// Hooks observe maintenance outcomes. Nil fields are ignored.
type Hooks struct {
	Registered func(field string)
	Failed     func(field string, err error)
	Forwarded  func(ok bool)
}

// Options configure a Maintainer. The zero value forwards every section
// untransformed.
type Options struct {
	Hooks Hooks
	// Transformers rewrite the section bodies of a prefix before they are
	// forwarded to the search provider. Stored bodies are never touched.
	Transformers map[string]Transformer
	// Excluded lists section namespaces never forwarded to the provider.
	Excluded []string
}

// Section is one stored section handed to the maintainer.
type Section struct {
	DigitalObjectID string
	Prefix          string
	Namespace       string
	Body            string
	Projection      map[string]any
}

// Maintainer registers derived fields with the store and forwards
// projections to an optional search provider.
type Maintainer struct {
	store        docstore.Store
	provider     search.Provider
	hooks        Hooks
	transformers map[string]Transformer
	excluded     map[string]struct{}
	logger       zerolog.Logger
}

// NewMaintainer creates a maintainer. provider may be nil.
func NewMaintainer(store docstore.Store, provider search.Provider, opts Options, logger zerolog.Logger) *Maintainer {
	excluded := make(map[string]struct{}, len(opts.Excluded))
	for _, ns := range opts.Excluded {
		excluded[ns] = struct{}{}
	}
	return &Maintainer{
		store:        store,
		provider:     provider,
		hooks:        opts.Hooks,
		transformers: opts.Transformers,
		excluded:     excluded,
		logger:       logger.With().Str("component", "index").Logger(),
	}
}

// Register declares every field as a fulltext index. It returns the number
// of fields registered successfully.
func (m *Maintainer) Register(ctx context.Context, fields []string) int {
	ok := 0
	for _, f := range fields {
		if err := m.store.CreateFulltextIndex(ctx, f); err != nil {
			m.logger.Warn().Err(err).Str("field", f).Msg("index registration failed")
			if m.hooks.Failed != nil {
				m.hooks.Failed(f, err)
			}
			continue
		}
		ok++
		if m.hooks.Registered != nil {
			m.hooks.Registered(f)
		}
	}
	return ok
}

// Index derives and registers the fields of the section's stored
// projection, then forwards the section.
func (m *Maintainer) Index(ctx context.Context, sec Section) {
	m.Register(ctx, DeriveFields(sec.Projection))
	m.Forward(ctx, sec)
}

// Forward pushes the section to the search provider when one is configured
// and the section's namespace is not excluded. A prefix with a transformer
// forwards the projection of the transformed body; when the transform fails
// the stored projection is forwarded instead.
func (m *Maintainer) Forward(ctx context.Context, sec Section) {
	if m.provider == nil {
		return
	}
	if _, ok := m.excluded[sec.Namespace]; ok {
		m.logger.Debug().Str("id", sec.DigitalObjectID).Str("namespace", sec.Namespace).Msg("namespace excluded from search provider")
		return
	}

	projection := m.transform(ctx, sec)
	doc, err := xmldoc.EncodeJSON(projection)
	if err != nil {
		m.logger.Warn().Err(err).Str("id", sec.DigitalObjectID).Msg("projection encoding failed")
		m.forwarded(false)
		return
	}
	indexed, err := m.provider.Index(ctx, doc, sec.DigitalObjectID, sec.Prefix)
	if err != nil {
		m.logger.Warn().Err(err).Str("id", sec.DigitalObjectID).Str("prefix", sec.Prefix).Msg("search provider index failed")
		m.forwarded(false)
		return
	}
	if !indexed {
		m.logger.Debug().Str("id", sec.DigitalObjectID).Str("prefix", sec.Prefix).Msg("search provider declined document")
	}
	m.forwarded(indexed)
}

func (m *Maintainer) transform(ctx context.Context, sec Section) map[string]any {
	t, ok := m.transformers[sec.Prefix]
	if !ok || sec.Body == "" {
		return sec.Projection
	}
	body, err := t.Transform(ctx, sec.Body)
	if err == nil {
		var projection map[string]any
		if projection, err = xmldoc.ProjectString(body); err == nil {
			return projection
		}
	}
	m.logger.Warn().Err(err).Str("id", sec.DigitalObjectID).Str("prefix", sec.Prefix).Msg("section transform failed")
	return sec.Projection
}

func (m *Maintainer) forwarded(ok bool) {
	if m.hooks.Forwarded != nil {
		m.hooks.Forwarded(ok)
	}
}
