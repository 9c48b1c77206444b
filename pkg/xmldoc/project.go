// ABOUTME: JSON projection of XML element trees
// ABOUTME: Stable string-typed projection used for indexing and JSON output

package xmldoc

import (
	"encoding/json"
	"strings"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

// Project converts el into a JSON-ready object keyed by the element's local
// name. Attributes map to "@name" ("@prefix:name" when prefixed). Repeated
// siblings become arrays. A text-only element becomes a string, and text
// alongside attributes or children is stored under "#text". Scalars are never coerced to numbers.
func Project(el *etree.Element) map[string]any {
	return map[string]any{el.Tag: projectValue(el)}
}

// ProjectString parses xml and projects its root element.
func ProjectString(xml string) (map[string]any, error) {
	doc, err := Parse(xml)
	if err != nil {
		return nil, err
	}
	return Project(doc.Root()), nil
}

// ProjectJSON parses xml and returns the projection encoded as JSON.
func ProjectJSON(xml string) (string, error) {
	projection, err := ProjectString(xml)
	if err != nil {
		return "", err
	}
	return EncodeJSON(projection)
}

// EncodeJSON marshals v. Map keys are emitted in sorted order.
func EncodeJSON(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", errors.Annotate(err, "encode json")
	}
	return string(out), nil
}

func projectValue(el *etree.Element) any {
	var attrs []etree.Attr
	for _, a := range el.Attr {
		if !IsNamespaceDecl(a) {
			attrs = append(attrs, a)
		}
	}
	children := el.ChildElements()
	text := strings.TrimSpace(textOf(el))

	if len(attrs) == 0 && len(children) == 0 {
		return text
	}

	obj := make(map[string]any, len(attrs)+len(children)+1)
	for _, a := range attrs {
		obj["@"+a.FullKey()] = a.Value
	}
	for _, c := range children {
		v := projectValue(c)
		existing, ok := obj[c.Tag]
		if !ok {
			obj[c.Tag] = v
			continue
		}
		if arr, isArr := existing.([]any); isArr {
			obj[c.Tag] = append(arr, v)
		} else {
			obj[c.Tag] = []any{existing, v}
		}
	}
	if text != "" {
		obj["#text"] = text
	}
	return obj
}

// textOf concatenates the direct character data of el.
func textOf(el *etree.Element) string {
	var b strings.Builder
	for _, tok := range el.Child {
		if cd, ok := tok.(*etree.CharData); ok {
			b.WriteString(cd.Data)
		}
	}
	return b.String()
}
