// ABOUTME: Namespace-aware XML tree helpers built on etree
// ABOUTME: Parsing, namespace resolution, standalone subtree serialization

package xmldoc

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/juju/errors"

	metaerrors "github.com/nainya/metastore/pkg/errors"
)

const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>`

// Parse reads a complete XML document. Malformed input and documents without
// exactly one root element are reported as InvalidDocument.
func Parse(xml string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, errors.Annotatef(metaerrors.InvalidDocument, "parse xml: %v", err)
	}
	roots := 0
	for _, tok := range doc.Child {
		if _, ok := tok.(*etree.Element); ok {
			roots++
		}
	}
	if roots != 1 {
		return nil, errors.Annotatef(metaerrors.InvalidDocument, "expected one root element, found %d", roots)
	}
	return doc, nil
}

// RootNamespace parses xml and returns the namespace URI of its root element.
func RootNamespace(xml string) (string, error) {
	doc, err := Parse(xml)
	if err != nil {
		return "", err
	}
	return NamespaceURI(doc.Root()), nil
}

// NamespaceURI resolves the namespace of el from the declarations in scope.
func NamespaceURI(el *etree.Element) string {
	uri, _ := lookupPrefix(el, el.Space)
	return uri
}

// lookupPrefix walks from el towards the root looking for the declaration of
// prefix. The empty prefix resolves the default namespace.
func lookupPrefix(el *etree.Element, prefix string) (string, bool) {
	if prefix == "xml" {
		return "http://www.w3.org/XML/1998/namespace", true
	}
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if prefix == "" && a.Space == "" && a.Key == "xmlns" {
				return a.Value, true
			}
			if prefix != "" && a.Space == "xmlns" && a.Key == prefix {
				return a.Value, true
			}
		}
	}
	return "", false
}

// IsNamespaceDecl reports whether a is an xmlns or xmlns:p attribute.
func IsNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

// Walk visits el and its descendant elements in document order. Returning
// false from fn skips the children of the visited element.
func Walk(el *etree.Element, fn func(*etree.Element) bool) {
	if !fn(el) {
		return
	}
	for _, c := range el.ChildElements() {
		Walk(c, fn)
	}
}

// FirstChildElement returns the first element child of el, or nil.
func FirstChildElement(el *etree.Element) *etree.Element {
	for _, tok := range el.Child {
		if c, ok := tok.(*etree.Element); ok {
			return c
		}
	}
	return nil
}

// Standalone returns a detached copy of el that declares every namespace its
// subtree uses but inherits from ancestors, so it parses on its own.
func Standalone(el *etree.Element) *etree.Element {
	used := make(map[string]struct{})
	Walk(el, func(e *etree.Element) bool {
		used[e.Space] = struct{}{}
		for _, a := range e.Attr {
			if prefix, ok := qnamePrefix(a); ok {
				used[prefix] = struct{}{}
			}
			if IsNamespaceDecl(a) || a.Space == "" || a.Space == "xml" {
				continue
			}
			used[a.Space] = struct{}{}
		}
		return true
	})

	cp := el.Copy()
	for prefix := range used {
		if declares(cp, prefix) {
			continue
		}
		uri, ok := lookupPrefix(el, prefix)
		if !ok || (prefix == "" && uri == "") {
			continue
		}
		if prefix == "" {
			cp.CreateAttr("xmlns", uri)
		} else {
			cp.CreateAttr("xmlns:"+prefix, uri)
		}
	}
	return cp
}

// qnameAttrs lists attributes whose values are QNames resolved against the
// in-scope namespace declarations.
var qnameAttrs = map[string]bool{
	"xsi:type": true,
}

// qnamePrefix reports the prefix referenced by the value of a QName-valued
// attribute such as xsi:type="mods:dateType".
func qnamePrefix(a etree.Attr) (string, bool) {
	if !qnameAttrs[a.FullKey()] {
		return "", false
	}
	prefix, _, found := strings.Cut(strings.TrimSpace(a.Value), ":")
	if !found || prefix == "" || prefix == "xml" {
		return "", false
	}
	return prefix, true
}

func declares(el *etree.Element, prefix string) bool {
	for _, a := range el.Attr {
		if prefix == "" && a.Space == "" && a.Key == "xmlns" {
			return true
		}
		if prefix != "" && a.Space == "xmlns" && a.Key == prefix {
			return true
		}
	}
	return false
}

// WriteElement serializes el as a document fragment without an XML
// declaration. el is not modified.
func WriteElement(el *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	out, err := doc.WriteToString()
	if err != nil {
		return "", errors.Annotate(err, "serialize element")
	}
	return out, nil
}

// WriteDocument serializes doc exactly as parsed, including any declaration.
func WriteDocument(doc *etree.Document) (string, error) {
	out, err := doc.WriteToString()
	if err != nil {
		return "", errors.Annotate(err, "serialize document")
	}
	return out, nil
}

// StripDeclaration removes a leading XML declaration and the whitespace that
// follows it.
func StripDeclaration(xml string) string {
	trimmed := strings.TrimLeft(xml, " \t\r\n")
	if !strings.HasPrefix(trimmed, "<?xml") {
		return xml
	}
	end := strings.Index(trimmed, "?>")
	if end < 0 {
		return xml
	}
	return strings.TrimLeft(trimmed[end+2:], " \t\r\n")
}

// Declaration is the XML declaration written in front of generated documents.
func Declaration() string {
	return xmlDeclaration
}
