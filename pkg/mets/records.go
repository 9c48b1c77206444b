// ABOUTME: Root and section record types and their stored attribute form
// ABOUTME: Conversions between docstore records and typed METS records

package mets

import (
	"time"

	"github.com/juju/errors"

	"github.com/nainya/metastore/pkg/contentkey"
	"github.com/nainya/metastore/pkg/docstore"
	metaerrors "github.com/nainya/metastore/pkg/errors"
)

// Stored attribute names.
const (
	AttrDigitalObjectID = "digitalObjectId"
	AttrXML             = "xml"
	AttrParentID        = "parentId"
	AttrSectionID       = "sectionId"
	AttrXMLData         = "xmlData"
	AttrJSON            = "json"
	AttrHistory         = "history"
	AttrModifiedDate    = "modifiedDate"
)

// RootRecord is the untouched composite document.
type RootRecord struct {
	DigitalObjectID string
	Type            string
	XML             string
}

// RootKey is the store key of the root record for digitalObjectID.
func RootKey(digitalObjectID string) string {
	return docstore.Key(docstore.KindDocument, contentkey.Derive(digitalObjectID))
}

// Attrs returns the stored form of r.
func (r RootRecord) Attrs() map[string]any {
	return map[string]any{
		docstore.AttrKind:   docstore.KindDocument,
		AttrDigitalObjectID: r.DigitalObjectID,
		docstore.AttrType:   r.Type,
		AttrXML:             r.XML,
	}
}

// RootFromRecord decodes a stored root record.
func RootFromRecord(rec docstore.Record) (RootRecord, error) {
	if rec.String(docstore.AttrKind) != docstore.KindDocument {
		return RootRecord{}, errors.Annotatef(metaerrors.NotFound, "record %q is not a document", rec.Key)
	}
	return RootRecord{
		DigitalObjectID: rec.String(AttrDigitalObjectID),
		Type:            rec.String(docstore.AttrType),
		XML:             rec.String(AttrXML),
	}, nil
}

// HistoryEntry is a superseded section body.
type HistoryEntry struct {
	XMLData      string
	ModifiedDate time.Time
}

// SectionRecord is one stored section.
type SectionRecord struct {
	Key       string
	ParentID  string
	SectionID string
	Type      string
	XMLData   string
	JSON      map[string]any
	History   []HistoryEntry
}

// Attrs returns the stored form of s. The key is not an attribute.
func (s SectionRecord) Attrs() map[string]any {
	return map[string]any{
		docstore.AttrKind: docstore.KindSection,
		AttrParentID:      s.ParentID,
		AttrSectionID:     s.SectionID,
		docstore.AttrType: s.Type,
		AttrXMLData:       s.XMLData,
		AttrJSON:          s.JSON,
		AttrHistory:       HistoryAttrs(s.History),
	}
}

// HistoryAttrs returns the stored form of a history list.
func HistoryAttrs(history []HistoryEntry) []any {
	out := make([]any, 0, len(history))
	for _, h := range history {
		out = append(out, map[string]any{
			AttrXMLData:      h.XMLData,
			AttrModifiedDate: h.ModifiedDate.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// SectionFromRecord decodes a stored section record.
func SectionFromRecord(rec docstore.Record) (SectionRecord, error) {
	if rec.String(docstore.AttrKind) != docstore.KindSection {
		return SectionRecord{}, errors.Errorf("record %q is not a section", rec.Key)
	}
	s := SectionRecord{
		Key:       rec.Key,
		ParentID:  rec.String(AttrParentID),
		SectionID: rec.String(AttrSectionID),
		Type:      rec.String(docstore.AttrType),
		XMLData:   rec.String(AttrXMLData),
	}
	if projection, ok := rec.Attrs[AttrJSON].(map[string]any); ok {
		s.JSON = projection
	}
	entries, _ := rec.Attrs[AttrHistory].([]any)
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		entry := HistoryEntry{}
		entry.XMLData, _ = m[AttrXMLData].(string)
		if raw, ok := m[AttrModifiedDate].(string); ok {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				entry.ModifiedDate = ts
			}
		}
		s.History = append(s.History, entry)
	}
	return s, nil
}
