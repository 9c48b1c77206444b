// ABOUTME: Error kinds shared by the MetaStore packages
// ABOUTME: Every failure carries one kind so transports can map it to a status

package errors

import (
	"github.com/juju/errors"
)

const (
	// InvalidDocument is returned when input XML is malformed or lacks a
	// structural element the operation depends on.
	InvalidDocument = errors.ConstError("invalid document")

	// NamespaceMismatch is returned when a document's root namespace is not
	// the one the operation expects.
	NamespaceMismatch = errors.ConstError("namespace mismatch")

	// SchemaViolation is returned when a well-formed document does not
	// conform to the schema registered for its namespace.
	SchemaViolation = errors.ConstError("schema violation")

	// NotFound is returned when a namespace, schema or record does not exist.
	NotFound = errors.ConstError("not found")

	// Conflict is returned for duplicate keys, ambiguous sections and
	// prefix/namespace collisions.
	Conflict = errors.ConstError("conflict")

	// Unavailable is returned when the store or search provider could not be
	// reached or did not answer in time. Callers may retry.
	Unavailable = errors.ConstError("unavailable")

	// NotImplemented is returned for operations that are deliberately
	// unsupported.
	NotImplemented = errors.ConstError("not implemented")
)

var kinds = []errors.ConstError{
	InvalidDocument,
	NamespaceMismatch,
	SchemaViolation,
	NotFound,
	Conflict,
	Unavailable,
	NotImplemented,
}

// Kind returns the kind carried by err, or the empty ConstError when err has
// none of the known kinds in its chain.
func Kind(err error) errors.ConstError {
	if err == nil {
		return ""
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ""
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, Unavailable)
}
