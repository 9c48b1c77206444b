// Package testfixtures holds schemas and METS documents shared by tests.
package testfixtures

import (
	"context"
	"embed"

	"github.com/nainya/metastore/pkg/registry"
)

//go:embed testdata
var files embed.FS

// Namespaces of the bundled schemas.
const (
	METSNamespace  = "http://www.loc.gov/METS/"
	MODSNamespace  = "http://www.loc.gov/mods/v3"
	DCNamespace    = "http://purl.org/dc/elements/1.1/"
	PartANamespace = "http://example.org/partA"
)

// Schemas maps each prefix to its bundled schema file.
var Schemas = map[string]string{
	"mets":  "mets.xsd",
	"mods":  "mods.xsd",
	"dc":    "dc.xsd",
	"partA": "partA.xsd",
}

// Read returns a file from testdata. It panics on a missing file.
func Read(name string) string {
	data, err := files.ReadFile("testdata/" + name)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// Book is a METS document with a MODS and a Dublin Core section.
func Book() string { return Read("book.xml") }

// PartA is a METS document with a single partA section "s1".
func PartA() string { return Read("parta.xml") }

// RegisterAll registers every bundled schema with reg.
func RegisterAll(ctx context.Context, reg *registry.Registry) error {
	for prefix, file := range Schemas {
		if _, _, err := reg.RegisterSchema(ctx, prefix, Read(file)); err != nil {
			return err
		}
	}
	return nil
}
