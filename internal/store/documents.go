package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/and161185/collabdoc/internal/errs"
)

// Documents is the catalogue of all documents, backed by one directory per
// document under dataDir with one file per section. Lookup is a linear
// scan, fine at the expected scale.
type Documents struct {
	dataDir string

	mu   sync.RWMutex
	docs []*Document
}

// NewDocuments constructs an empty catalogue rooted at dataDir.
func NewDocuments(dataDir string) *Documents {
	return &Documents{dataDir: dataDir}
}

// Create allocates a document with sectionCount empty persisted sections,
// owned by owner. The name must be unique across the catalogue.
func (s *Documents) Create(name string, sectionCount int, owner string) (*Document, error) {
	// A name becomes a directory under dataDir, so it must be a single
	// plain path element: no separators and no "."/".." traversal.
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("invalid document name %q", name)
	}
	if sectionCount < 1 {
		return nil, errors.New("a document needs at least one section")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupLocked(name) != nil {
		return nil, errs.ErrAlreadyExists
	}

	doc, err := buildDocument(s.dataDir, name, owner, nil, sectionCount)
	if err != nil {
		return nil, err
	}
	s.docs = append(s.docs, doc)
	return doc, nil
}

// ByName returns the document with the given name.
func (s *Documents) ByName(name string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d := s.lookupLocked(name); d != nil {
		return d, nil
	}
	return nil, fmt.Errorf("document %q: %w", name, errs.ErrNotFound)
}

// AccessibleNames lists the names of every document username owns or was
// granted access to, in creation order.
func (s *Documents) AccessibleNames(username string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for _, d := range s.docs {
		if d.CanAccess(username) {
			names = append(names, d.Name())
		}
	}
	return names
}

func (s *Documents) lookupLocked(name string) *Document {
	for _, d := range s.docs {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Snapshot exports the aggregate for persistence. Edit guards are runtime
// state and are not part of the snapshot.
func (s *Documents) Snapshot() []DocumentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DocumentRecord, 0, len(s.docs))
	for _, d := range s.docs {
		d.mu.RLock()
		mods := append([]string(nil), d.modifiers...)
		d.mu.RUnlock()
		out = append(out, DocumentRecord{
			Name:      d.name,
			Owner:     d.owner,
			Modifiers: mods,
			Sections:  len(d.sections),
		})
	}
	return out
}

// RestoreDocuments rebuilds the catalogue from persisted records. Section
// files are created if missing and every edit guard starts out free: an
// edit that was in progress at shutdown is abandoned, not resumed.
func RestoreDocuments(dataDir string, records []DocumentRecord) (*Documents, error) {
	s := NewDocuments(dataDir)
	for _, r := range records {
		doc, err := buildDocument(dataDir, r.Name, r.Owner, r.Modifiers, r.Sections)
		if err != nil {
			return nil, fmt.Errorf("restore document %q: %w", r.Name, err)
		}
		s.docs = append(s.docs, doc)
	}
	return s, nil
}

// buildDocument lays out the on-disk directory and section files and
// assembles the aggregate.
func buildDocument(dataDir, name, owner string, modifiers []string, sectionCount int) (*Document, error) {
	dir := filepath.Join(dataDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	sections := make([]*Section, 0, sectionCount)
	for i := 0; i < sectionCount; i++ {
		path := sectionPath(dataDir, name, i)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		sections = append(sections, newSection(path))
	}
	return &Document{
		name:      name,
		owner:     owner,
		modifiers: append([]string(nil), modifiers...),
		sections:  sections,
	}, nil
}
