package syncer

import "github.com/kalambet/folio/internal/portfolio"

// Origin names the channel a mutation came from.
type Origin string

const (
	OriginAI      Origin = "ai"
	OriginReorder Origin = "reorder"
	OriginSection Origin = "section"
	OriginTheme   Origin = "theme"
	OriginFont    Origin = "font"
	OriginStyle   Origin = "style"
)

// Field returns the metadata field owned by a direct-channel origin.
func (o Origin) Field() (portfolio.Field, bool) {
	switch o {
	case OriginTheme:
		return portfolio.FieldTheme, true
	case OriginFont:
		return portfolio.FieldFont, true
	case OriginStyle:
		return portfolio.FieldCustomStyle, true
	}
	return "", false
}

// OriginForField maps a metadata field back to its direct-channel origin.
func OriginForField(f portfolio.Field) (Origin, bool) {
	switch f {
	case portfolio.FieldTheme:
		return OriginTheme, true
	case portfolio.FieldFont:
		return OriginFont, true
	case portfolio.FieldCustomStyle:
		return OriginStyle, true
	}
	return "", false
}

// slot is the in-flight slot name: AI, reorder and section edits share the
// document slot, every metadata field has its own.
func (o Origin) slot() string {
	if f, ok := o.Field(); ok {
		return string(f)
	}
	return "document"
}

// State is where a pending mutation is in its lifecycle.
type State int

const (
	Pending State = iota
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return "pending"
}

// PendingMutation is the optimistic-apply unit: the snapshot to restore and
// the candidate being committed.
type PendingMutation struct {
	Origin    Origin
	Previous  portfolio.Document
	Candidate portfolio.Document
	State     State
}

// ownership is the part of the document a mutation writes. Applying and
// rolling back touch only these components, so a concurrent mutation of a
// different component survives either outcome.
type ownership struct {
	sections bool
	fields   []portfolio.Field
}

func ownershipOf(origin Origin, prev, candidate portfolio.Document) ownership {
	if f, ok := origin.Field(); ok {
		return ownership{fields: []portfolio.Field{f}}
	}
	own := ownership{sections: true}
	for _, f := range portfolio.Fields() {
		if prev.Metadata.Get(f) != candidate.Metadata.Get(f) {
			own.fields = append(own.fields, f)
		}
	}
	return own
}

// overlay copies the owned components of src onto dst.
func (o ownership) overlay(dst, src portfolio.Document) portfolio.Document {
	out := dst.Clone()
	if o.sections {
		out = out.WithSections(src.Sections)
	}
	for _, f := range o.fields {
		out.Metadata.Set(f, src.Metadata.Get(f))
	}
	return out
}
