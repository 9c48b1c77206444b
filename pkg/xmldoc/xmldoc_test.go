package xmldoc

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metaerrors "github.com/nainya/metastore/pkg/errors"
)

const nested = `<?xml version="1.0" encoding="UTF-8"?>
<mets:mets xmlns:mets="http://www.loc.gov/METS/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:xlink="http://www.w3.org/1999/xlink">
  <mets:dmdSec ID="dmd1">
    <mets:mdWrap MDTYPE="DC">
      <mets:xmlData>
        <dc:record><dc:title xlink:href="x">Title</dc:title></dc:record>
      </mets:xmlData>
    </mets:mdWrap>
  </mets:dmdSec>
</mets:mets>`

func findTag(t *testing.T, doc *etree.Document, tag string) *etree.Element {
	t.Helper()
	var found *etree.Element
	Walk(doc.Root(), func(e *etree.Element) bool {
		if found == nil && e.Tag == tag {
			found = e
		}
		return found == nil
	})
	require.NotNil(t, found, "element %s", tag)
	return found
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("<a><b></a>")
	require.Error(t, err)
	assert.True(t, errors.Is(err, metaerrors.InvalidDocument))

	_, err = Parse("   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, metaerrors.InvalidDocument))
}

func TestNamespaceResolution(t *testing.T) {
	ns, err := RootNamespace(nested)
	require.NoError(t, err)
	assert.Equal(t, "http://www.loc.gov/METS/", ns)

	doc, err := Parse(nested)
	require.NoError(t, err)
	assert.Equal(t, "http://purl.org/dc/elements/1.1/", NamespaceURI(findTag(t, doc, "record")))

	ns, err = RootNamespace(`<root xmlns="urn:default"><child/></root>`)
	require.NoError(t, err)
	assert.Equal(t, "urn:default", ns)

	ns, err = RootNamespace(`<root/>`)
	require.NoError(t, err)
	assert.Empty(t, ns)
}

func TestStandaloneCarriesInheritedNamespaces(t *testing.T) {
	doc, err := Parse(nested)
	require.NoError(t, err)

	record := findTag(t, doc, "record")
	body, err := WriteElement(Standalone(record))
	require.NoError(t, err)

	assert.Contains(t, body, `xmlns:dc="http://purl.org/dc/elements/1.1/"`)
	assert.Contains(t, body, `xmlns:xlink="http://www.w3.org/1999/xlink"`)
	assert.NotContains(t, body, "xmlns:mets")
	assert.NotContains(t, body, "<?xml")

	// the original tree is untouched
	assert.Len(t, record.Attr, 0)

	ns, err := RootNamespace(body)
	require.NoError(t, err)
	assert.Equal(t, "http://purl.org/dc/elements/1.1/", ns)
}

func TestStandaloneDeclaresPrefixesInTypeValues(t *testing.T) {
	doc, err := Parse(`<mets:xmlData xmlns:mets="http://www.loc.gov/METS/" xmlns:mods="http://www.loc.gov/mods/v3" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">` +
		`<rec xsi:type="mods:dateType"/></mets:xmlData>`)
	require.NoError(t, err)

	body, err := WriteElement(Standalone(findTag(t, doc, "rec")))
	require.NoError(t, err)
	assert.Contains(t, body, `xmlns:mods="http://www.loc.gov/mods/v3"`)
	assert.Contains(t, body, `xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"`)
	assert.NotContains(t, body, "xmlns:mets")

	_, err = Parse(body)
	require.NoError(t, err)
}

func TestStandaloneDefaultNamespace(t *testing.T) {
	doc, err := Parse(`<w xmlns="urn:a"><inner><leaf/></inner></w>`)
	require.NoError(t, err)

	body, err := WriteElement(Standalone(findTag(t, doc, "inner")))
	require.NoError(t, err)
	assert.Equal(t, `<inner xmlns="urn:a"><leaf/></inner>`, body)
}

func TestStripDeclaration(t *testing.T) {
	assert.Equal(t, "<a/>", StripDeclaration("<?xml version=\"1.0\"?>\n<a/>"))
	assert.Equal(t, "<a/>", StripDeclaration("<a/>"))
}

func TestProject(t *testing.T) {
	projection, err := ProjectString(`<p:rec xmlns:p="urn:p" lang="en">
  <p:title>One</p:title>
  <p:title>Two</p:title>
  <p:year>1999</p:year>
  <p:note type="x">mixed</p:note>
  <p:empty/>
</p:rec>`)
	require.NoError(t, err)

	want := map[string]any{
		"rec": map[string]any{
			"@lang": "en",
			"title": []any{"One", "Two"},
			"year":  "1999",
			"note":  map[string]any{"@type": "x", "#text": "mixed"},
			"empty": "",
		},
	}
	assert.Equal(t, want, projection)
}

func TestProjectKeepsAttributePrefixes(t *testing.T) {
	projection, err := ProjectString(`<r xmlns:xlink="http://www.w3.org/1999/xlink" href="local" xlink:href="remote"/>`)
	require.NoError(t, err)

	want := map[string]any{
		"r": map[string]any{
			"@href":       "local",
			"@xlink:href": "remote",
		},
	}
	assert.Equal(t, want, projection)
}

func TestProjectJSONIsDeterministic(t *testing.T) {
	xml := `<r><b>2</b><a>1</a></r>`
	first, err := ProjectJSON(xml)
	require.NoError(t, err)
	second, err := ProjectJSON(xml)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, `{"r":{"a":"1","b":"2"}}`, first)
}
