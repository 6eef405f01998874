// Package document owns the text of every tracked document.
package document

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	ErrNotTracked   = errors.New("document not tracked")
	ErrStaleVersion = errors.New("stale document version")
)

type Document struct {
	URI string
	// Version is the editor's version; disk documents keep 0.
	Version int32
	Text    string
	// Open marks editor ownership. Disk content never replaces an open document.
	Open bool
	// Revision increases on every mutation of any document in the store and
	// orders updates for the index.
	Revision int32
}

// Store encapsulates the current text of each tracked URI. It is the only
// place document text is mutated.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]Document
	revision int32
}

// NewStore creates an initialized Store.
func NewStore() *Store {
	return &Store{docs: make(map[string]Document)}
}

func (s *Store) next() int32 {
	s.revision++
	return s.revision
}

// Open hands uri to the editor, replacing any disk content.
func (s *Store) Open(uri string, text string, version int32) Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := Document{URI: uri, Version: version, Text: text, Open: true, Revision: s.next()}
	s.docs[uri] = doc
	return doc
}

// Change replaces the full text of an open document.
func (s *Store) Change(uri string, text string, version int32) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok || !doc.Open {
		return Document{}, fmt.Errorf("%w: %s", ErrNotTracked, uri)
	}
	if version <= doc.Version {
		return Document{}, fmt.Errorf("%w: %s has %d, got %d", ErrStaleVersion, uri, doc.Version, version)
	}
	doc.Text = text
	doc.Version = version
	doc.Revision = s.next()
	s.docs[uri] = doc
	return doc, nil
}

// Close forgets an open document.
func (s *Store) Close(uri string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok || !doc.Open {
		return Document{}, fmt.Errorf("%w: %s", ErrNotTracked, uri)
	}
	delete(s.docs, uri)
	s.revision++
	return doc, nil
}

// Track records the disk content of uri. It reports false, and changes
// nothing, while the editor owns the document.
func (s *Store) Track(uri string, text string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.docs[uri]; ok && doc.Open {
		return doc, false
	}
	doc := Document{URI: uri, Text: text, Revision: s.next()}
	s.docs[uri] = doc
	return doc, true
}

// Untrack forgets a disk document. Open documents are left alone.
func (s *Store) Untrack(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok || doc.Open {
		return false
	}
	delete(s.docs, uri)
	s.revision++
	return true
}

// Get returns the current document for a URI.
func (s *Store) Get(uri string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[uri]
	return doc, ok
}

// Revision returns the revision of uri, or false once it is no longer tracked.
func (s *Store) Revision(uri string) (int32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[uri]
	return doc.Revision, ok
}

func (s *Store) URIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.docs))
}
