package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"quarantine-drop/internal/errs"
)

// fileRecord is the on-disk shape: {"alice": {"passwordHash": "..."}}.
type fileRecord struct {
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

// FileStore keeps every user in memory and rewrites the whole JSON document
// on each registration. A single mutex serializes the read-modify-write.
type FileStore struct {
	mu    sync.RWMutex
	fs    afero.Fs
	path  string
	users map[string]fileRecord
}

// OpenFileStore loads path from fsys. A missing file yields an empty store;
// it is created on the first registration.
func OpenFileStore(fsys afero.Fs, path string) (*FileStore, error) {
	s := &FileStore{fs: fsys, path: path, users: make(map[string]fileRecord)}

	b, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user store: %w", err)
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.users); err != nil {
		return nil, fmt.Errorf("decode user store %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[username]
	if !ok {
		return User{}, errs.ErrNotFound
	}
	return User{Username: username, PasswordHash: rec.PasswordHash, CreatedAt: rec.CreatedAt}, nil
}

func (s *FileStore) Create(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.Username]; exists {
		return errs.ErrAlreadyExists
	}

	next := make(map[string]fileRecord, len(s.users)+1)
	for k, v := range s.users {
		next[k] = v
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	next[u.Username] = fileRecord{PasswordHash: u.PasswordHash, CreatedAt: created}

	// Only publish the new map once it is durable.
	if err := s.save(next); err != nil {
		return &errs.PersistenceError{Op: "save users", Path: s.path, Err: err}
	}
	s.users = next
	return nil
}

func (s *FileStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *FileStore) Close() error { return nil }

// save writes to a sibling temp file and renames it over the target so a
// crash mid-write never leaves a truncated document.
func (s *FileStore) save(users map[string]fileRecord) error {
	b, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return s.fs.Rename(tmp, s.path)
}
