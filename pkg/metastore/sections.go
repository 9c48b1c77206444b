package metastore

import (
	"context"
	"strings"

	"github.com/juju/errors"

	"github.com/nainya/metastore/pkg/docstore"
	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/mets"
	"github.com/nainya/metastore/pkg/xmldoc"
)

// GetSections returns the current bodies of the sections of digitalObjectID
// whose namespace is bound to prefix, or of every section when prefix is
// empty. XML output is an <array> of bodies, JSON output an array of
// projections.
func (s *Service) GetSections(ctx context.Context, prefix, digitalObjectID string, format mets.Format) (string, error) {
	if _, err := s.root(ctx, digitalObjectID); err != nil {
		return "", err
	}
	p := docstore.Predicate{mets.AttrParentID: digitalObjectID}
	if prefix != "" {
		ns, err := s.registry.ResolveNamespace(ctx, prefix)
		if err != nil {
			return "", err
		}
		p[docstore.AttrType] = ns
	}
	sections, err := s.sections(ctx, p)
	if err != nil {
		return "", err
	}

	if format == mets.FormatJSON {
		projections := make([]any, 0, len(sections))
		for _, sec := range sections {
			projections = append(projections, sec.JSON)
		}
		return xmldoc.EncodeJSON(projections)
	}
	bodies := make([]string, 0, len(sections))
	for _, sec := range sections {
		bodies = append(bodies, sec.XMLData)
	}
	return renderXMLArray(bodies), nil
}

// UpdateSection replaces the body of one stored section of digitalObjectID.
//
// The section is located by the namespace of sectionXML's root element and,
// when given, sectionID. No match is NotFound; more than one match is a
// Conflict and nothing is changed. The replaced body is kept in the
// section's history.
func (s *Service) UpdateSection(ctx context.Context, sectionXML, digitalObjectID, sectionID string) (mets.SectionRecord, error) {
	doc, err := xmldoc.Parse(sectionXML)
	if err != nil {
		s.noteValidation(err)
		return mets.SectionRecord{}, err
	}
	namespace := xmldoc.NamespaceURI(doc.Root())
	if err := s.validator.Validate(ctx, sectionXML, namespace); err != nil {
		s.noteValidation(err)
		return mets.SectionRecord{}, err
	}

	p := docstore.Predicate{
		mets.AttrParentID: digitalObjectID,
		docstore.AttrType: namespace,
	}
	if sectionID = strings.TrimSpace(sectionID); sectionID != "" {
		p[mets.AttrSectionID] = sectionID
	}
	matches, err := s.sections(ctx, p)
	if err != nil {
		return mets.SectionRecord{}, err
	}
	switch len(matches) {
	case 0:
		return mets.SectionRecord{}, errors.Annotatef(metaerrors.NotFound,
			"no section of type %q with id %q in %q", namespace, sectionID, digitalObjectID)
	case 1:
	default:
		return mets.SectionRecord{}, errors.Annotatef(metaerrors.Conflict,
			"%d sections of type %q in %q: ambiguous section, supply a section id", len(matches), namespace, digitalObjectID)
	}

	body, err := xmldoc.WriteElement(doc.Root())
	if err != nil {
		return mets.SectionRecord{}, err
	}
	return s.applySectionUpdate(ctx, matches[0], body, xmldoc.Project(doc.Root()))
}

// applySectionUpdate moves the current body into history and stores body.
func (s *Service) applySectionUpdate(ctx context.Context, current mets.SectionRecord, body string, projection map[string]any) (mets.SectionRecord, error) {
	updated := current
	updated.History = append(append([]mets.HistoryEntry(nil), current.History...), mets.HistoryEntry{
		XMLData:      current.XMLData,
		ModifiedDate: s.clock.Now().UTC(),
	})
	updated.XMLData = body
	updated.JSON = projection

	err := s.store.UpdateRaw(ctx, current.Key, map[string]any{
		mets.AttrXMLData: updated.XMLData,
		mets.AttrJSON:    updated.JSON,
		mets.AttrHistory: mets.HistoryAttrs(updated.History),
	})
	if err != nil {
		return mets.SectionRecord{}, errors.Annotatef(err, "update section %q of %q", current.SectionID, current.ParentID)
	}

	s.index(ctx, current.ParentID, current.Type, body, projection)
	s.observer.SectionUpdated()
	s.logger.Info().Str("id", current.ParentID).Str("section", current.SectionID).
		Int("history", len(updated.History)).Msg("section updated")
	return updated, nil
}
