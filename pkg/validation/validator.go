// ABOUTME: XSD validation of XML fragments against registered schemas
// ABOUTME: Compiled schemas are cached per namespace on the Validator instance

package validation

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/jacoelho/xsd"
	xsderrors "github.com/jacoelho/xsd/errors"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/registry"
	"github.com/nainya/metastore/pkg/xmldoc"
)

// maxReported bounds how many violations are listed in one error message.
const maxReported = 10

// SchemaSource is the part of the registry the validator reads.
type SchemaSource interface {
	ResolvePrefix(ctx context.Context, namespace string) (string, bool, error)
	SchemaFS(ctx context.Context) (fs.FS, error)
}

// Validator checks fragments against the schema registered for a namespace.
// Registered schema bodies never change, so cached compilations stay valid
// for the lifetime of the Validator.
type Validator struct {
	source SchemaSource
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*xsd.Schema
}

// New creates a validator reading schemas from source.
func New(source SchemaSource, logger zerolog.Logger) *Validator {
	return &Validator{
		source: source,
		logger: logger.With().Str("component", "validator").Logger(),
		cache:  make(map[string]*xsd.Schema),
	}
}

// Validate checks fragment against the schema of namespace.
//
// A malformed fragment yields InvalidDocument, an unregistered namespace
// NotFound, and a fragment that does not conform SchemaViolation.
func (v *Validator) Validate(ctx context.Context, fragment, namespace string) error {
	if _, err := xmldoc.Parse(fragment); err != nil {
		return err
	}
	schema, err := v.schema(ctx, namespace)
	if err != nil {
		return err
	}

	err = schema.Validate(strings.NewReader(fragment))
	if err == nil {
		return nil
	}
	if violations, ok := xsderrors.AsValidations(err); ok {
		v.logger.Debug().Str("namespace", namespace).Int("violations", len(violations)).Msg("fragment rejected")
		return errors.Annotatef(metaerrors.SchemaViolation, "%s: %s", namespace, describe(violations))
	}
	return errors.Annotatef(err, "validate against %q", namespace)
}

// ValidateDocument validates xml against the schema of its root namespace.
func (v *Validator) ValidateDocument(ctx context.Context, xml string) error {
	namespace, err := xmldoc.RootNamespace(xml)
	if err != nil {
		return err
	}
	return v.Validate(ctx, xml, namespace)
}

func (v *Validator) schema(ctx context.Context, namespace string) (*xsd.Schema, error) {
	v.mu.RLock()
	cached, ok := v.cache[namespace]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	prefix, ok, err := v.source.ResolvePrefix(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Annotatef(metaerrors.NotFound, "no schema registered for namespace %q", namespace)
	}
	fsys, err := v.source.SchemaFS(ctx)
	if err != nil {
		return nil, err
	}
	compiled, err := xsd.Load(fsys, registry.FileName(prefix))
	if err != nil {
		return nil, errors.Annotatef(err, "compile schema for %q", namespace)
	}

	v.mu.Lock()
	if existing, ok := v.cache[namespace]; ok {
		compiled = existing
	} else {
		v.cache[namespace] = compiled
	}
	v.mu.Unlock()

	v.logger.Debug().Str("namespace", namespace).Str("prefix", prefix).Msg("schema compiled")
	return compiled, nil
}

// Cached reports whether a compiled schema for namespace is held.
func (v *Validator) Cached(namespace string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.cache[namespace]
	return ok
}

func describe(violations []xsderrors.Validation) string {
	var parts []string
	for i := range violations {
		if i == maxReported {
			parts = append(parts, fmt.Sprintf("and %d more", len(violations)-maxReported))
			break
		}
		parts = append(parts, violations[i].Error())
	}
	return strings.Join(parts, "; ")
}
