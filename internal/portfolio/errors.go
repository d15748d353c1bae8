package portfolio

import (
	"errors"
	"strings"
)

var (
	// ErrReorderMismatch is returned when a proposed movable order is not a
	// permutation of the document's movable sections.
	ErrReorderMismatch = errors.New("reorder mismatch")

	// ErrMissingSectionData is returned when a merged order names a type the
	// document has no section for.
	ErrMissingSectionData = errors.New("missing section data")

	// ErrInvalidDocument is the sentinel behind every ValidationError.
	ErrInvalidDocument = errors.New("invalid document")
)

// ValidationError lists every invariant a document violates.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid document: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidDocument
}
