package portfolio

import "fmt"

// AnchorClass tells whether a section may take part in reordering.
type AnchorClass int

const (
	Movable AnchorClass = iota
	Fixed
)

func (c AnchorClass) String() string {
	if c == Fixed {
		return "fixed"
	}
	return "movable"
}

// fixedTypes is the canonical fixed set. Every valid document carries each
// of these exactly once.
var fixedTypes = []string{"hero", "userInfo", "themes"}

// FixedTypes returns the canonical fixed section types.
func FixedTypes() []string {
	out := make([]string, len(fixedTypes))
	copy(out, fixedTypes)
	return out
}

// Classify derives the anchor class from the section type alone.
func Classify(sectionType string) AnchorClass {
	for _, t := range fixedTypes {
		if t == sectionType {
			return Fixed
		}
	}
	return Movable
}

// MovableSubsequence returns the movable section types in document order.
func MovableSubsequence(d Document) []string {
	var out []string
	for _, s := range d.Sections {
		if Classify(s.Type) == Movable {
			out = append(out, s.Type)
		}
	}
	return out
}

// FixedSet returns the fixed section types present in d. A document that is
// missing a fixed type, or carries one twice, is a data-integrity error.
func FixedSet(d Document) (map[string]struct{}, error) {
	counts := make(map[string]int, len(fixedTypes))
	for _, s := range d.Sections {
		if Classify(s.Type) == Fixed {
			counts[s.Type]++
		}
	}

	var problems []string
	set := make(map[string]struct{}, len(fixedTypes))
	for _, t := range fixedTypes {
		switch counts[t] {
		case 0:
			problems = append(problems, fmt.Sprintf("fixed section %q is missing", t))
		case 1:
			set[t] = struct{}{}
		default:
			problems = append(problems, fmt.Sprintf("fixed section %q appears %d times", t, counts[t]))
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return set, nil
}
