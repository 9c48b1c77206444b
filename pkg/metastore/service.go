// Package metastore ties the registry, validator, decomposition engine,
// index maintainer and store together into the operations of the service.
//
// Writes follow one order: validate everything, write the root record, then
// the section records, then index. A store failure part way leaves the
// records already written in place; nothing is rolled back.
package metastore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/rs/zerolog"

	"github.com/nainya/metastore/pkg/docstore"
	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/index"
	"github.com/nainya/metastore/pkg/mets"
	"github.com/nainya/metastore/pkg/registry"
	"github.com/nainya/metastore/pkg/search"
	"github.com/nainya/metastore/pkg/validation"
	"github.com/nainya/metastore/pkg/xmldoc"
)

// Observer receives outcome events, typically to feed metrics.
type Observer interface {
	DocumentStored(sections int)
	SectionUpdated()
	ValidationFailed(kind string)
	SearchCompleted(hits int)
}

type nopObserver struct{}

func (nopObserver) DocumentStored(int)      {}
func (nopObserver) SectionUpdated()         {}
func (nopObserver) ValidationFailed(string) {}
func (nopObserver) SearchCompleted(int)     {}

// Config tunes a Service. Zero values select the defaults.
type Config struct {
	Composite mets.Config
	// CreateRetries is how often a root write that timed out is retried.
	CreateRetries int
	RetryDelay    time.Duration
	Clock         clock.Clock
	IndexHooks    index.Hooks
	// Transformers rewrite the sections of a prefix before they reach the
	// search provider.
	Transformers map[string]index.Transformer
	// ExcludedTypes are section namespaces never sent to the search provider.
	ExcludedTypes []string
	Observer      Observer
}

// Service implements the metadata store operations over a docstore.Store.
type Service struct {
	store     docstore.Store
	registry  *registry.Registry
	validator *validation.Validator
	engine    *mets.Engine
	indexer   *index.Maintainer
	provider  search.Provider
	observer  Observer
	clock     clock.Clock
	retries   int
	delay     time.Duration
	logger    zerolog.Logger
}

// New builds a service over store. provider may be nil, in which case
// searches use the store's fulltext indexes.
func New(cfg Config, store docstore.Store, provider search.Provider, logger zerolog.Logger) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.CreateRetries < 0 {
		cfg.CreateRetries = 0
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	reg := registry.New(store, logger)
	validator := validation.New(reg, logger)
	indexer := index.NewMaintainer(store, provider, index.Options{
		Hooks:        cfg.IndexHooks,
		Transformers: cfg.Transformers,
		Excluded:     cfg.ExcludedTypes,
	}, logger)
	return &Service{
		store:     store,
		registry:  reg,
		validator: validator,
		engine:    mets.New(cfg.Composite, validator, logger),
		indexer:   indexer,
		provider:  provider,
		observer:  cfg.Observer,
		clock:     cfg.Clock,
		retries:   cfg.CreateRetries,
		delay:     cfg.RetryDelay,
		logger:    logger.With().Str("component", "metastore").Logger(),
	}
}

// Registry exposes the schema registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Close releases the search provider and the store.
func (s *Service) Close() error {
	var firstErr error
	if s.provider != nil {
		firstErr = s.provider.Close()
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// StoreResult summarizes a stored document.
type StoreResult struct {
	DigitalObjectID string
	Sections        int
}

// StoreDocument validates and decomposes xml, then persists the root record
// followed by one record per section. Nothing is written unless the whole
// document and every section validate.
func (s *Service) StoreDocument(ctx context.Context, xml, digitalObjectID string) (StoreResult, error) {
	d, err := s.engine.Decompose(ctx, xml, digitalObjectID)
	if err != nil {
		s.noteValidation(err)
		return StoreResult{}, err
	}

	if err := s.createRoot(ctx, d.Root); err != nil {
		return StoreResult{}, err
	}

	for _, sec := range d.Sections {
		rec := mets.SectionRecord{
			Key:       uuid.NewString(),
			ParentID:  digitalObjectID,
			SectionID: sec.ID,
			Type:      sec.Type,
			XMLData:   sec.Body,
			JSON:      sec.Projection,
		}
		if err := s.store.CreateUnique(ctx, rec.Key, rec.Attrs()); err != nil {
			return StoreResult{}, errors.Annotatef(err, "store section %q of %q", sec.ID, digitalObjectID)
		}
	}
	for _, sec := range d.Sections {
		s.index(ctx, digitalObjectID, sec.Type, sec.Body, sec.Projection)
	}

	s.observer.DocumentStored(len(d.Sections))
	s.logger.Info().Str("id", digitalObjectID).Int("sections", len(d.Sections)).Msg("document stored")
	return StoreResult{DigitalObjectID: digitalObjectID, Sections: len(d.Sections)}, nil
}

// createRoot writes the root record, retrying writes that timed out. A
// retry that finds this very document already stored counts as success,
// since the timed out attempt may have landed.
func (s *Service) createRoot(ctx context.Context, root mets.RootRecord) error {
	key := mets.RootKey(root.DigitalObjectID)
	attempt := 0
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempt++
			err := s.store.CreateUnique(ctx, key, root.Attrs())
			if attempt > 1 && errors.Is(err, metaerrors.Conflict) {
				if existing, getErr := s.store.Get(ctx, key); getErr == nil && existing.String(mets.AttrXML) == root.XML {
					return nil
				}
			}
			return err
		},
		IsFatalError: func(err error) bool { return !metaerrors.IsRetryable(err) },
		NotifyFunc: func(err error, attempt int) {
			s.logger.Warn().Err(err).Int("attempt", attempt).Str("id", root.DigitalObjectID).Msg("root write failed, retrying")
		},
		Attempts: s.retries + 1,
		Delay:    s.delay,
		Clock:    s.clock,
		Stop:     ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if last := retry.LastError(err); last != nil {
		err = last
	}
	if errors.Is(err, metaerrors.Conflict) {
		return errors.Annotatef(metaerrors.Conflict, "digital object %q already stored", root.DigitalObjectID)
	}
	return errors.Annotatef(err, "store document %q", root.DigitalObjectID)
}

// GetDocument reassembles the stored document in the requested format.
func (s *Service) GetDocument(ctx context.Context, digitalObjectID string, format mets.Format) (string, error) {
	root, err := s.root(ctx, digitalObjectID)
	if err != nil {
		return "", err
	}
	sections, err := s.sections(ctx, docstore.Predicate{mets.AttrParentID: digitalObjectID})
	if err != nil {
		return "", err
	}
	return s.engine.Recompose(root, sections, format)
}

func (s *Service) root(ctx context.Context, digitalObjectID string) (mets.RootRecord, error) {
	rec, err := s.store.Get(ctx, mets.RootKey(digitalObjectID))
	if err != nil {
		return mets.RootRecord{}, errors.Annotatef(err, "digital object %q", digitalObjectID)
	}
	return mets.RootFromRecord(rec)
}

// sections returns the section records matching p, restricted to sections.
func (s *Service) sections(ctx context.Context, p docstore.Predicate) ([]mets.SectionRecord, error) {
	p[docstore.AttrKind] = docstore.KindSection
	recs, err := s.store.Query(ctx, p)
	if err != nil {
		return nil, errors.Annotate(err, "query sections")
	}
	out := make([]mets.SectionRecord, 0, len(recs))
	for _, rec := range recs {
		sec, err := mets.SectionFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, nil
}

// UpdateResult summarizes a whole-document update.
type UpdateResult struct {
	Created   int
	Updated   int
	Unchanged int
}

// UpdateDocument replaces the stored root body with xml and reconciles the
// sections: changed bodies go through the section update path and keep
// their history, new sections are created, and sections missing from xml
// are left in place.
func (s *Service) UpdateDocument(ctx context.Context, xml, digitalObjectID string) (UpdateResult, error) {
	if _, err := s.root(ctx, digitalObjectID); err != nil {
		return UpdateResult{}, err
	}
	d, err := s.engine.Decompose(ctx, xml, digitalObjectID)
	if err != nil {
		s.noteValidation(err)
		return UpdateResult{}, err
	}
	existing, err := s.sections(ctx, docstore.Predicate{mets.AttrParentID: digitalObjectID})
	if err != nil {
		return UpdateResult{}, err
	}
	byIdentity := make(map[[2]string]mets.SectionRecord, len(existing))
	for _, sec := range existing {
		id := [2]string{sec.Type, sec.SectionID}
		if _, dup := byIdentity[id]; !dup {
			byIdentity[id] = sec
		}
	}

	if err := s.store.UpdateRaw(ctx, mets.RootKey(digitalObjectID), map[string]any{mets.AttrXML: xml}); err != nil {
		return UpdateResult{}, errors.Annotatef(err, "update document %q", digitalObjectID)
	}

	var res UpdateResult
	for _, sec := range d.Sections {
		current, ok := byIdentity[[2]string{sec.Type, sec.ID}]
		switch {
		case !ok:
			rec := mets.SectionRecord{
				Key:       uuid.NewString(),
				ParentID:  digitalObjectID,
				SectionID: sec.ID,
				Type:      sec.Type,
				XMLData:   sec.Body,
				JSON:      sec.Projection,
			}
			if err := s.store.CreateUnique(ctx, rec.Key, rec.Attrs()); err != nil {
				return res, errors.Annotatef(err, "store section %q of %q", sec.ID, digitalObjectID)
			}
			s.index(ctx, digitalObjectID, sec.Type, sec.Body, sec.Projection)
			res.Created++
		case current.XMLData == sec.Body:
			res.Unchanged++
		default:
			if _, err := s.applySectionUpdate(ctx, current, sec.Body, sec.Projection); err != nil {
				return res, err
			}
			res.Updated++
		}
	}

	s.logger.Info().Str("id", digitalObjectID).
		Int("created", res.Created).Int("updated", res.Updated).Int("unchanged", res.Unchanged).
		Msg("document updated")
	return res, nil
}

// ValidateDocument validates xml against the schema of its root namespace.
func (s *Service) ValidateDocument(ctx context.Context, xml string) error {
	err := s.validator.ValidateDocument(ctx, xml)
	s.noteValidation(err)
	return err
}

// index registers the fields of a section projection and forwards it.
func (s *Service) index(ctx context.Context, digitalObjectID, namespace, body string, projection map[string]any) {
	prefix, ok, err := s.registry.ResolvePrefix(ctx, namespace)
	if err != nil || !ok {
		s.logger.Warn().Err(err).Str("namespace", namespace).Msg("no prefix for indexed section")
		prefix = ""
	}
	s.indexer.Index(ctx, index.Section{
		DigitalObjectID: digitalObjectID,
		Prefix:          prefix,
		Namespace:       namespace,
		Body:            body,
		Projection:      projection,
	})
}

func (s *Service) noteValidation(err error) {
	if err == nil {
		return
	}
	switch kind := metaerrors.Kind(err); kind {
	case metaerrors.InvalidDocument, metaerrors.NamespaceMismatch, metaerrors.SchemaViolation:
		s.observer.ValidationFailed(string(kind))
	}
}

// renderXMLArray wraps fragments in the <array> envelope used for lists.
func renderXMLArray(items []string) string {
	var b strings.Builder
	b.WriteString("<array>\n")
	for _, it := range items {
		b.WriteString(xmldoc.StripDeclaration(it))
		b.WriteString("\n")
	}
	b.WriteString("</array>")
	return b.String()
}
