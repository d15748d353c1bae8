package portfolio

import "fmt"

// MergeOrder places newMovableOrder into the movable slots of originalOrder.
// Fixed types keep their absolute positions; each movable position consumes
// the next element of newMovableOrder.
func MergeOrder(originalOrder, newMovableOrder []string) ([]string, error) {
	var movable []string
	for _, t := range originalOrder {
		if Classify(t) == Movable {
			movable = append(movable, t)
		}
	}
	if err := checkPermutation(movable, newMovableOrder); err != nil {
		return nil, err
	}

	merged := make([]string, 0, len(originalOrder))
	next := 0
	for _, t := range originalOrder {
		if Classify(t) == Fixed {
			merged = append(merged, t)
			continue
		}
		merged = append(merged, newMovableOrder[next])
		next++
	}
	return merged, nil
}

func checkPermutation(want, got []string) error {
	if len(want) != len(got) {
		return fmt.Errorf("%w: expected %d movable sections, got %d", ErrReorderMismatch, len(want), len(got))
	}
	counts := make(map[string]int, len(want))
	for _, t := range want {
		counts[t]++
	}
	for _, t := range got {
		if Classify(t) == Fixed {
			return fmt.Errorf("%w: %q is a fixed section", ErrReorderMismatch, t)
		}
		if counts[t] == 0 {
			return fmt.Errorf("%w: unexpected or duplicated section %q", ErrReorderMismatch, t)
		}
		counts[t]--
	}
	return nil
}

// Arrange rebuilds d's sections in the given type order, resolving each type
// back to its full section. Nothing is returned unless every type resolves.
func Arrange(d Document, order []string) (Document, error) {
	if err := uniqueTypes(d); err != nil {
		return Document{}, err
	}
	byType := make(map[string]Section, len(d.Sections))
	for _, s := range d.Sections {
		byType[s.Type] = s
	}
	sections := make([]Section, 0, len(order))
	for _, t := range order {
		s, ok := byType[t]
		if !ok {
			return Document{}, fmt.Errorf("%w: %q", ErrMissingSectionData, t)
		}
		sections = append(sections, s)
	}
	return d.WithSections(sections), nil
}

// Reconcile merges a user-proposed movable permutation back into d's anchored
// ordering. d itself is never modified.
func Reconcile(d Document, newMovableOrder []string) (Document, error) {
	if err := uniqueTypes(d); err != nil {
		return Document{}, err
	}
	if _, err := FixedSet(d); err != nil {
		return Document{}, err
	}
	merged, err := MergeOrder(d.Types(), newMovableOrder)
	if err != nil {
		return Document{}, err
	}
	return Arrange(d, merged)
}

// uniqueTypes rejects a document that carries the same section type twice;
// arranging it by type would silently drop one of the payloads.
func uniqueTypes(d Document) error {
	seen := make(map[string]bool, len(d.Sections))
	for _, s := range d.Sections {
		if seen[s.Type] {
			return &ValidationError{Problems: []string{fmt.Sprintf("section %q appears more than once", s.Type)}}
		}
		seen[s.Type] = true
	}
	return nil
}
