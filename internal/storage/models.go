package storage

import (
	"errors"

	"github.com/kalambet/folio/internal/portfolio"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSlugTaken is returned by SetSlug when another portfolio holds the slug.
	ErrSlugTaken = errors.New("slug already taken")
)

// fieldColumns maps metadata fields to their portfolios column.
var fieldColumns = map[portfolio.Field]string{
	portfolio.FieldTheme:       "theme",
	portfolio.FieldFont:        "font",
	portfolio.FieldCustomStyle: "custom_style",
}
