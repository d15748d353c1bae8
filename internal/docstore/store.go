// Package docstore holds the canonical in-memory portfolio document.
package docstore

import (
	"sync"

	"github.com/kalambet/folio/internal/portfolio"
)

// Store owns one canonical document. Every read returns a deep copy and
// every write bumps the revision, so callers can detect interleaved writes.
type Store struct {
	mu  sync.RWMutex
	doc portfolio.Document
	rev uint64
}

// New creates a store holding a copy of doc at revision 0.
func New(doc portfolio.Document) *Store {
	return &Store{doc: doc.Clone()}
}

// Get returns a copy of the canonical document and its revision.
func (s *Store) Get() (portfolio.Document, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone(), s.rev
}

// Document returns a copy of the canonical document.
func (s *Store) Document() portfolio.Document {
	d, _ := s.Get()
	return d
}

// Revision returns the current revision.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// Set replaces the canonical document and returns the new revision.
func (s *Store) Set(doc portfolio.Document) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.Clone()
	s.rev++
	return s.rev
}

// Update runs fn against the current document under the write lock and
// stores its result. fn receives its own copy.
func (s *Store) Update(fn func(cur portfolio.Document, rev uint64) portfolio.Document) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = fn(s.doc.Clone(), s.rev).Clone()
	s.rev++
	return s.rev
}
