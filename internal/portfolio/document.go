package portfolio

import (
	"bytes"
	"encoding/json"
)

// Section is one rendered block of a portfolio. Data is the type-specific
// payload, kept as raw JSON so unknown section types pass through untouched.
type Section struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Metadata holds the document-wide presentation settings. Each field is
// persisted on its own by the direct mutation channel.
type Metadata struct {
	Theme       string `json:"theme" validate:"max=64"`
	Font        string `json:"font" validate:"max=64"`
	CustomStyle string `json:"customStyle"`
}

// Document is the canonical portfolio: sections render top to bottom in
// slice order.
type Document struct {
	Sections []Section `json:"sections"`
	Metadata Metadata  `json:"metadata"`
}

// Field names a single metadata field.
type Field string

const (
	FieldTheme       Field = "theme"
	FieldFont        Field = "font"
	FieldCustomStyle Field = "customStyle"
)

// Fields lists every metadata field in a stable order.
func Fields() []Field {
	return []Field{FieldTheme, FieldFont, FieldCustomStyle}
}

// Get returns the value of f. Unknown fields read as "".
func (m Metadata) Get(f Field) string {
	switch f {
	case FieldTheme:
		return m.Theme
	case FieldFont:
		return m.Font
	case FieldCustomStyle:
		return m.CustomStyle
	}
	return ""
}

// Set assigns v to f and reports whether f is a known field.
func (m *Metadata) Set(f Field, v string) bool {
	switch f {
	case FieldTheme:
		m.Theme = v
	case FieldFont:
		m.Font = v
	case FieldCustomStyle:
		m.CustomStyle = v
	default:
		return false
	}
	return true
}

// Clone returns a deep copy; sections and their payload bytes are not shared.
func (d Document) Clone() Document {
	out := Document{Metadata: d.Metadata}
	if d.Sections != nil {
		out.Sections = cloneSections(d.Sections)
	}
	return out
}

func cloneSections(in []Section) []Section {
	out := make([]Section, len(in))
	for i, s := range in {
		out[i] = Section{Type: s.Type}
		if s.Data != nil {
			out[i].Data = append(json.RawMessage(nil), s.Data...)
		}
	}
	return out
}

// WithSections returns a copy of d whose section list is replaced by sections.
func (d Document) WithSections(sections []Section) Document {
	out := d.Clone()
	out.Sections = cloneSections(sections)
	return out
}

// Types returns the section types in document order.
func (d Document) Types() []string {
	types := make([]string, len(d.Sections))
	for i, s := range d.Sections {
		types[i] = s.Type
	}
	return types
}

// Section looks up a section by type.
func (d Document) Section(sectionType string) (Section, bool) {
	for _, s := range d.Sections {
		if s.Type == sectionType {
			return s, true
		}
	}
	return Section{}, false
}

// Equal reports whether d and o have the same sections, payload bytes and
// metadata.
func (d Document) Equal(o Document) bool {
	return d.Metadata == o.Metadata && SectionsEqual(d.Sections, o.Sections)
}

// SectionsEqual compares two section lists element by element.
func SectionsEqual(a, b []Section) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || !bytes.Equal(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}
