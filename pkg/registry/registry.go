// ABOUTME: Schema registry binding prefixes to namespaces and XSD bodies
// ABOUTME: Bijection held by two unique records that must point at each other

package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/nainya/metastore/pkg/contentkey"
	"github.com/nainya/metastore/pkg/docstore"
	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/xmldoc"
)

// Outcome reports what RegisterNamespace did.
type Outcome int

const (
	Registered Outcome = iota + 1
	AlreadyRegistered
)

func (o Outcome) String() string {
	switch o {
	case Registered:
		return "registered"
	case AlreadyRegistered:
		return "already registered"
	default:
		return "unknown"
	}
}

// Attribute names of prefix and schema records.
const (
	AttrPrefix = "prefix"
	AttrXSD    = "xsd"
)

// Registry resolves prefixes, namespaces and schema bodies. A binding exists
// only when the prefix record and the schema record agree, so a registration
// interrupted between its two writes is invisible until it is retried.
type Registry struct {
	store  docstore.Store
	logger zerolog.Logger
}

// New creates a registry over store.
func New(store docstore.Store, logger zerolog.Logger) *Registry {
	return &Registry{store: store, logger: logger.With().Str("component", "registry").Logger()}
}

func prefixKey(prefix string) string {
	return docstore.Key(docstore.KindPrefix, contentkey.Derive(prefix))
}

// SchemaKey is the store key of the schema body registered for namespace.
func SchemaKey(namespace string) string {
	return docstore.Key(docstore.KindSchema, contentkey.Derive(namespace))
}

// RegisterNamespace binds prefix to namespace and stores schemaBody.
//
// An empty prefix resolves to the prefix already bound to namespace. An
// identical registration is a no-op that keeps the first schema body.
func (r *Registry) RegisterNamespace(ctx context.Context, prefix, namespace, schemaBody string) (Outcome, error) {
	if namespace == "" {
		return 0, errors.Annotate(metaerrors.InvalidDocument, "namespace required")
	}

	existing, ok, err := r.ResolvePrefix(ctx, namespace)
	if err != nil {
		return 0, err
	}
	if ok {
		if prefix == "" || prefix == existing {
			return AlreadyRegistered, nil
		}
		return 0, errors.Annotatef(metaerrors.Conflict,
			"namespace %q already registered under prefix %q", namespace, existing)
	}
	if prefix == "" {
		return 0, errors.Annotatef(metaerrors.InvalidDocument, "prefix required to register namespace %q", namespace)
	}
	// "_" separates object id and prefix in search provider document ids
	if strings.ContainsAny(prefix, ":/_ ") {
		return 0, errors.Annotatef(metaerrors.InvalidDocument, "invalid prefix %q", prefix)
	}

	bound, ok, err := r.binding(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if ok {
		return 0, errors.Annotatef(metaerrors.Conflict, "prefix %q already bound to %q", prefix, bound)
	}

	// claim the prefix
	err = r.store.CreateUnique(ctx, prefixKey(prefix), map[string]any{
		docstore.AttrKind: docstore.KindPrefix,
		AttrPrefix:        prefix,
		docstore.AttrType: namespace,
	})
	if errors.Is(err, metaerrors.Conflict) {
		rec, getErr := r.store.Get(ctx, prefixKey(prefix))
		if getErr != nil {
			return 0, errors.Annotatef(getErr, "read prefix %q", prefix)
		}
		if rec.String(docstore.AttrType) != namespace {
			return 0, errors.Annotatef(metaerrors.Conflict,
				"prefix %q already bound to %q", prefix, rec.String(docstore.AttrType))
		}
	} else if err != nil {
		return 0, errors.Annotatef(err, "bind prefix %q", prefix)
	}

	// claim the namespace
	err = r.store.CreateUnique(ctx, SchemaKey(namespace), map[string]any{
		docstore.AttrKind: docstore.KindSchema,
		AttrPrefix:        prefix,
		docstore.AttrType: namespace,
		AttrXSD:           schemaBody,
	})
	if errors.Is(err, metaerrors.Conflict) {
		rec, getErr := r.store.Get(ctx, SchemaKey(namespace))
		if getErr != nil {
			return 0, errors.Annotatef(getErr, "read schema %q", namespace)
		}
		if rec.String(AttrPrefix) != prefix {
			return 0, errors.Annotatef(metaerrors.Conflict,
				"namespace %q already registered under prefix %q", namespace, rec.String(AttrPrefix))
		}
		return AlreadyRegistered, nil
	}
	if err != nil {
		return 0, errors.Annotatef(err, "store schema for %q", namespace)
	}

	r.logger.Info().Str("prefix", prefix).Str("namespace", namespace).Msg("namespace registered")
	return Registered, nil
}

// RegisterSchema registers schemaBody under the namespace named by its
// targetNamespace attribute.
func (r *Registry) RegisterSchema(ctx context.Context, prefix, schemaBody string) (string, Outcome, error) {
	namespace, err := TargetNamespace(schemaBody)
	if err != nil {
		return "", 0, err
	}
	outcome, err := r.RegisterNamespace(ctx, prefix, namespace, schemaBody)
	return namespace, outcome, err
}

// TargetNamespace reads the targetNamespace attribute of an XSD document.
func TargetNamespace(schemaBody string) (string, error) {
	doc, err := xmldoc.Parse(schemaBody)
	if err != nil {
		return "", err
	}
	ns := doc.Root().SelectAttrValue("targetNamespace", "")
	if ns == "" {
		return "", errors.Annotate(metaerrors.InvalidDocument, "schema has no targetNamespace")
	}
	return ns, nil
}

// ResolveNamespace returns the namespace bound to prefix, or NotFound.
func (r *Registry) ResolveNamespace(ctx context.Context, prefix string) (string, error) {
	ns, ok, err := r.binding(ctx, prefix)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Annotatef(metaerrors.NotFound, "prefix %q", prefix)
	}
	return ns, nil
}

// ResolvePrefix returns the prefix bound to namespace.
func (r *Registry) ResolvePrefix(ctx context.Context, namespace string) (string, bool, error) {
	rec, ok, err := r.get(ctx, SchemaKey(namespace))
	if err != nil || !ok {
		return "", false, err
	}
	prefix := rec.String(AttrPrefix)
	back, ok, err := r.get(ctx, prefixKey(prefix))
	if err != nil || !ok {
		return "", false, err
	}
	if back.String(docstore.AttrType) != namespace {
		return "", false, nil
	}
	return prefix, true, nil
}

// binding returns the namespace prefix resolves to when both records agree.
func (r *Registry) binding(ctx context.Context, prefix string) (string, bool, error) {
	rec, ok, err := r.get(ctx, prefixKey(prefix))
	if err != nil || !ok {
		return "", false, err
	}
	ns := rec.String(docstore.AttrType)
	back, ok, err := r.get(ctx, SchemaKey(ns))
	if err != nil || !ok {
		return "", false, err
	}
	if back.String(AttrPrefix) != prefix {
		return "", false, nil
	}
	return ns, true, nil
}

func (r *Registry) get(ctx context.Context, key string) (docstore.Record, bool, error) {
	rec, err := r.store.Get(ctx, key)
	if errors.Is(err, metaerrors.NotFound) {
		return docstore.Record{}, false, nil
	}
	if err != nil {
		return docstore.Record{}, false, errors.Annotate(err, "registry lookup")
	}
	return rec, true, nil
}

// GetSchema returns the schema body stored for namespace, or NotFound.
func (r *Registry) GetSchema(ctx context.Context, namespace string) (string, error) {
	if _, ok, err := r.ResolvePrefix(ctx, namespace); err != nil {
		return "", err
	} else if !ok {
		return "", errors.Annotatef(metaerrors.NotFound, "schema for namespace %q", namespace)
	}
	rec, err := r.store.Get(ctx, SchemaKey(namespace))
	if err != nil {
		return "", errors.Annotatef(err, "schema for namespace %q", namespace)
	}
	return rec.String(AttrXSD), nil
}

// Binding is one complete prefix registration.
type Binding struct {
	Prefix    string
	Namespace string
	Schema    string
}

// Bindings returns every complete registration ordered by prefix.
func (r *Registry) Bindings(ctx context.Context) ([]Binding, error) {
	schemas, err := r.store.Query(ctx, docstore.Predicate{docstore.AttrKind: docstore.KindSchema})
	if err != nil {
		return nil, errors.Annotate(err, "list schemas")
	}
	prefixes, err := r.store.Query(ctx, docstore.Predicate{docstore.AttrKind: docstore.KindPrefix})
	if err != nil {
		return nil, errors.Annotate(err, "list prefixes")
	}

	byNamespace := make(map[string]docstore.Record, len(schemas))
	for _, s := range schemas {
		byNamespace[s.String(docstore.AttrType)] = s
	}

	var out []Binding
	for _, p := range prefixes {
		prefix := p.String(AttrPrefix)
		ns := p.String(docstore.AttrType)
		s, ok := byNamespace[ns]
		if !ok || s.String(AttrPrefix) != prefix {
			continue
		}
		out = append(out, Binding{Prefix: prefix, Namespace: ns, Schema: s.String(AttrXSD)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out, nil
}

// ListPrefixes returns every bound prefix in sorted order.
func (r *Registry) ListPrefixes(ctx context.Context) ([]string, error) {
	bindings, err := r.Bindings(ctx)
	if err != nil {
		return nil, err
	}
	prefixes := make([]string, 0, len(bindings))
	for _, b := range bindings {
		prefixes = append(prefixes, b.Prefix)
	}
	return prefixes, nil
}
