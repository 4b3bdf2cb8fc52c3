package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	usersFile     = "users.json"
	documentsFile = "documents.json"
)

// FileStore persists the aggregates as JSON files under the data
// directory. It is the default Persister.
type FileStore struct {
	dir string
}

var _ Persister = (*FileStore)(nil)

// NewFileStore constructs a file-backed persister rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// SaveUsers writes the credential aggregate.
func (f *FileStore) SaveUsers(_ context.Context, users []UserRecord) error {
	return f.write(usersFile, users)
}

// LoadUsers reads the credential aggregate, empty if never saved.
func (f *FileStore) LoadUsers(_ context.Context) ([]UserRecord, error) {
	var users []UserRecord
	if err := f.read(usersFile, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SaveDocuments writes the document aggregate.
func (f *FileStore) SaveDocuments(_ context.Context, docs []DocumentRecord) error {
	return f.write(documentsFile, docs)
}

// LoadDocuments reads the document aggregate, empty if never saved.
func (f *FileStore) LoadDocuments(_ context.Context) ([]DocumentRecord, error) {
	var docs []DocumentRecord
	if err := f.read(documentsFile, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// write replaces the target atomically so a crash mid-save never leaves a
// truncated aggregate.
func (f *FileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(f.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(f.dir, name))
}

func (f *FileStore) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
