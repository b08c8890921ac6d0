// Package document holds the document the assistant is currently working on.
//
// Content is opaque text supplied by the UI; edited files are opaque bytes
// returned by the document service.
package document

import (
	"errors"
	"path"
	"strings"
	"sync"
)

var (
	ErrNoDocument      = errors.New("document: no document loaded")
	ErrInvalidDocument = errors.New("document: invalid document")
)

type Document struct {
	// ID is the file name under the data path.
	ID string `json:"id"`
	// Content is what the assistant sees as context. An edit does not
	// rewrite it; it stays stale until the UI sets the document again.
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
	// Revision counts edits applied by tool calls since the document was set.
	Revision int `json:"revision"`
}

type Store struct {
	mu     sync.RWMutex
	doc    *Document
	edited []byte
}

func NewStore() *Store { return &Store{} }

// Set replaces the current document. ID must be a bare file name.
func (s *Store) Set(doc Document) error {
	doc.ID = strings.TrimSpace(doc.ID)
	if doc.ID == "" {
		return errors.Join(ErrInvalidDocument, errors.New("id is required"))
	}
	if doc.ID != path.Base(doc.ID) || doc.ID == "." || doc.ID == ".." {
		return errors.Join(ErrInvalidDocument, errors.New("id must be a file name, not a path"))
	}
	doc.Revision = 0

	s.mu.Lock()
	s.doc = &doc
	s.edited = nil
	s.mu.Unlock()
	return nil
}

// Current returns a copy of the current document.
func (s *Store) Current() (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return Document{}, false
	}
	return *s.doc, true
}

// ApplyEdit records the file produced by a document-edit call. When the
// service names a new output file, later calls address that file.
func (s *Store) ApplyEdit(outputFileName string, content []byte) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return Document{}, ErrNoDocument
	}
	if name := path.Base(strings.TrimSpace(outputFileName)); outputFileName != "" && name != "." && name != "/" {
		s.doc.ID = name
	}
	s.doc.Revision++
	s.edited = append([]byte(nil), content...)
	return *s.doc, nil
}

// Edited returns the bytes of the most recent edit.
func (s *Store) Edited() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.edited == nil {
		return nil, false
	}
	return append([]byte(nil), s.edited...), true
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.doc = nil
	s.edited = nil
	s.mu.Unlock()
}
