package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/and161185/collabdoc/internal/errs"
)

// Section is a fixed-index chunk of a document. It carries the runtime
// edit guard (one editor at most, no queueing) and a handle to the file
// that persists its content. The guard is never persisted: a restored
// section always comes up free.
type Section struct {
	path string

	mu     sync.Mutex
	editor *User
}

func newSection(path string) *Section {
	return &Section{path: path}
}

// TryAcquire claims edit rights for user. It never blocks: if another
// editor holds the section it fails immediately and the caller retries at
// the application layer.
func (s *Section) TryAcquire(user *User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor != nil {
		return false
	}
	s.editor = user
	return true
}

// Release clears the edit guard, but only for the holder itself; another
// session can never force a takeover.
func (s *Section) Release(user *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == user {
		s.editor = nil
	}
}

// Editor returns the current editor's username, or "" when free.
func (s *Section) Editor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return ""
	}
	return s.editor.Username
}

// Reader opens the persisted content for reading.
func (s *Section) Reader() (io.ReadCloser, error) {
	return os.Open(s.path)
}

// Writer opens the persisted content for replacement, truncating the
// previous version.
func (s *Section) Writer() (io.WriteCloser, error) {
	return os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// Document is a named, owner-bound ordered list of sections plus the
// access grants made through SHARE. The owner and modifier list never
// shrink.
type Document struct {
	name  string
	owner string

	mu        sync.RWMutex
	modifiers []string
	sections  []*Section
}

// Name returns the document's unique name.
func (d *Document) Name() string { return d.name }

// Owner returns the creator's username.
func (d *Document) Owner() string { return d.owner }

// CanAccess reports whether username is the owner or a granted modifier.
func (d *Document) CanAccess(username string) bool {
	if username == d.owner {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.modifiers {
		if m == username {
			return true
		}
	}
	return false
}

// AddModifier grants edit access to username. Granting twice is a no-op.
func (d *Document) AddModifier(username string) {
	if username == d.owner {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.modifiers {
		if m == username {
			return
		}
	}
	d.modifiers = append(d.modifiers, username)
}

// Section returns the section at index.
func (d *Document) Section(index int) (*Section, error) {
	if index < 0 || index >= len(d.sections) {
		return nil, fmt.Errorf("section %d: %w", index, errs.ErrNotFound)
	}
	return d.sections[index], nil
}

// SectionCount returns the number of sections.
func (d *Document) SectionCount() int { return len(d.sections) }

// EditingSections returns the indices of sections currently held by an
// editor, in order.
func (d *Document) EditingSections() []int {
	var held []int
	for i, s := range d.sections {
		if s.Editor() != "" {
			held = append(held, i)
		}
	}
	return held
}

// ContentReader returns the concatenation of all section contents in
// section order. Closing it closes every underlying file.
func (d *Document) ContentReader() (io.ReadCloser, error) {
	files := make([]io.ReadCloser, 0, len(d.sections))
	readers := make([]io.Reader, 0, len(d.sections))
	for _, s := range d.sections {
		f, err := s.Reader()
		if err != nil {
			for _, open := range files {
				_ = open.Close()
			}
			return nil, err
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	return &multiReadCloser{Reader: io.MultiReader(readers...), closers: files}, nil
}

type multiReadCloser struct {
	io.Reader
	closers []io.ReadCloser
}

func (m *multiReadCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func sectionPath(dir, name string, index int) string {
	return filepath.Join(dir, name, fmt.Sprintf("%d.section", index))
}
