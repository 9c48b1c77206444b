// ABOUTME: Decomposition of composite METS documents into sections and back
// ABOUTME: Sections are the element children of every metadata wrapper element

package mets

import (
	"context"
	"strings"

	"github.com/beevik/etree"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/xmldoc"
)

// Defaults for Config.
const (
	DefaultNamespace = "http://www.loc.gov/METS/"
	DefaultWrapper   = "xmlData"
)

// Format selects the output representation of a document.
type Format string

const (
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
)

// ParseFormat accepts "xml", "json" and "" (xml).
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatXML:
		return FormatXML, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", errors.Annotatef(metaerrors.InvalidDocument, "unsupported format %q", s)
	}
}

// Config names the composite namespace and the local name of the wrapper
// element whose children are sections.
type Config struct {
	Namespace string
	Wrapper   string
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Wrapper == "" {
		c.Wrapper = DefaultWrapper
	}
	return c
}

// Validator checks a fragment against the schema of a namespace.
type Validator interface {
	Validate(ctx context.Context, fragment, namespace string) error
}

// Section is one embedded subtree extracted during decomposition.
type Section struct {
	ID         string
	Type       string
	Body       string
	Projection map[string]any
}

// Decomposition is the result of splitting a composite document.
type Decomposition struct {
	Root     RootRecord
	Sections []Section
}

// Engine decomposes and recomposes composite documents.
type Engine struct {
	cfg       Config
	validator Validator
	logger    zerolog.Logger
}

// New creates an engine. Zero Config fields take the METS defaults.
func New(cfg Config, validator Validator, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		validator: validator,
		logger:    logger.With().Str("component", "mets").Logger(),
	}
}

// Namespace returns the composite namespace the engine accepts.
func (e *Engine) Namespace() string {
	return e.cfg.Namespace
}

// Decompose validates xml and splits it into a root record and sections.
// Every section is validated before anything is returned.
func (e *Engine) Decompose(ctx context.Context, xml, digitalObjectID string) (*Decomposition, error) {
	if strings.TrimSpace(digitalObjectID) == "" {
		return nil, errors.Annotate(metaerrors.InvalidDocument, "digital object id required")
	}
	doc, err := xmldoc.Parse(xml)
	if err != nil {
		return nil, err
	}
	if ns := xmldoc.NamespaceURI(doc.Root()); ns != e.cfg.Namespace {
		return nil, errors.Annotatef(metaerrors.NamespaceMismatch,
			"root namespace %q, expected %q", ns, e.cfg.Namespace)
	}
	if err := e.validator.Validate(ctx, xml, e.cfg.Namespace); err != nil {
		return nil, errors.Annotatef(err, "document %q", digitalObjectID)
	}

	located, err := e.locate(doc)
	if err != nil {
		return nil, err
	}

	seen := make(map[[2]string]struct{}, len(located))
	sections := make([]Section, 0, len(located))
	for _, l := range located {
		typ := xmldoc.NamespaceURI(l.element)
		dup := [2]string{typ, l.id}
		if _, ok := seen[dup]; ok {
			return nil, errors.Annotatef(metaerrors.Conflict,
				"section %q of type %q appears more than once", l.id, typ)
		}
		seen[dup] = struct{}{}

		body, err := xmldoc.WriteElement(xmldoc.Standalone(l.element))
		if err != nil {
			return nil, err
		}
		if err := e.validator.Validate(ctx, body, typ); err != nil {
			return nil, errors.Annotatef(err, "section %q", l.id)
		}
		sections = append(sections, Section{
			ID:         l.id,
			Type:       typ,
			Body:       body,
			Projection: xmldoc.Project(l.element),
		})
	}

	e.logger.Debug().Str("id", digitalObjectID).Int("sections", len(sections)).Msg("document decomposed")
	return &Decomposition{
		Root: RootRecord{
			DigitalObjectID: digitalObjectID,
			Type:            e.cfg.Namespace,
			XML:             xml,
		},
		Sections: sections,
	}, nil
}

type located struct {
	id      string
	wrapper *etree.Element
	element *etree.Element
}

// locate finds every section in document order. Wrappers nested inside a
// section belong to that section and are not descended into.
func (e *Engine) locate(doc *etree.Document) ([]located, error) {
	var (
		out []located
		err error
	)
	xmldoc.Walk(doc.Root(), func(el *etree.Element) bool {
		if err != nil {
			return false
		}
		if el.Tag != e.cfg.Wrapper {
			return true
		}
		var id string
		id, err = sectionID(el)
		if err != nil {
			return false
		}
		for _, c := range el.ChildElements() {
			out = append(out, located{id: id, wrapper: el, element: c})
		}
		return false
	})
	return out, err
}

// sectionID reads the ID attribute of the wrapper's grandparent.
func sectionID(wrapper *etree.Element) (string, error) {
	parent := wrapper.Parent()
	if parent == nil || parent.Parent() == nil {
		return "", errors.Annotatef(metaerrors.InvalidDocument, "%s element has no enclosing section", wrapper.Tag)
	}
	id := parent.Parent().SelectAttrValue("ID", "")
	if id == "" {
		return "", errors.Annotatef(metaerrors.InvalidDocument,
			"%s element has no ID on %s", wrapper.Tag, parent.Parent().Tag)
	}
	return id, nil
}

// Recompose rebuilds the composite document from root and the current
// section bodies. A section whose ID no longer appears in the root is an
// orphan and is skipped.
func (e *Engine) Recompose(root RootRecord, sections []SectionRecord, format Format) (string, error) {
	if root.Type != e.cfg.Namespace {
		return "", errors.Annotatef(metaerrors.NamespaceMismatch,
			"document %q has type %q, expected %q", root.DigitalObjectID, root.Type, e.cfg.Namespace)
	}
	doc, err := xmldoc.Parse(root.XML)
	if err != nil {
		return "", errors.Annotatef(err, "stored document %q", root.DigitalObjectID)
	}

	wrappers := make(map[string]*etree.Element)
	xmldoc.Walk(doc.Root(), func(el *etree.Element) bool {
		if el.Tag != e.cfg.Wrapper {
			return true
		}
		if id, err := sectionID(el); err == nil {
			if _, ok := wrappers[id]; !ok {
				wrappers[id] = el
			}
		}
		return false
	})

	replaced := make(map[*etree.Element]bool)
	for _, s := range sections {
		wrapper, ok := wrappers[s.SectionID]
		if !ok {
			e.logger.Debug().Str("id", root.DigitalObjectID).Str("section", s.SectionID).Msg("orphan section skipped")
			continue
		}
		secDoc, err := xmldoc.Parse(s.XMLData)
		if err != nil {
			return "", errors.Annotatef(err, "stored section %q", s.SectionID)
		}
		fresh := secDoc.Root().Copy()

		target := slot(wrapper, s.Type, replaced)
		if target == nil {
			wrapper.AddChild(fresh)
		} else {
			idx := target.Index()
			wrapper.RemoveChild(target)
			wrapper.InsertChildAt(idx, fresh)
		}
		replaced[fresh] = true
	}

	switch format {
	case FormatJSON:
		return xmldoc.EncodeJSON(xmldoc.Project(doc.Root()))
	default:
		return xmldoc.WriteDocument(doc)
	}
}

// slot picks the child a section replaces: the first not yet replaced child
// of the section's namespace, otherwise the first not yet replaced child.
func slot(wrapper *etree.Element, typ string, replaced map[*etree.Element]bool) *etree.Element {
	var fallback *etree.Element
	for _, c := range wrapper.ChildElements() {
		if replaced[c] {
			continue
		}
		if xmldoc.NamespaceURI(c) == typ {
			return c
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback
}
