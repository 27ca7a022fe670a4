package kv

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists all keys in a single JSON file. Values are stored
// base64-encoded by encoding/json's []byte handling.
//
// The whole map is rewritten on every Set/Delete via a temp-file rename, so
// the file is never left half-written. This is fine for the engine's usage
// pattern (a handful of small records, written on user actions) and keeps
// the on-disk format trivially inspectable.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string][]byte
	loaded bool
}

// NewFileStore returns a store backed by the JSON file at path.
// The file is created lazily on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:   path,
		values: make(map[string][]byte),
	}
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}

	value, ok := s.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored

	return s.persist()
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}

	if _, ok := s.values[key]; !ok {
		return nil
	}

	delete(s.values, key)
	return s.persist()
}

// load reads the backing file once. A missing file yields an empty store;
// an unreadable or corrupt file also yields an empty store because the
// engine treats persistence corruption as recoverable.
func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return errors.Join(ErrFailedToLoad, err)
	}

	values := make(map[string][]byte)
	if err := json.Unmarshal(data, &values); err != nil {
		// Corrupt file: start fresh rather than wedging the engine.
		values = make(map[string][]byte)
	}

	s.values = values
	s.loaded = true
	return nil
}

func (s *FileStore) persist() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return errors.Join(ErrFailedToPersist, err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Join(ErrFailedToPersist, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Join(ErrFailedToPersist, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Join(ErrFailedToPersist, err)
	}

	return nil
}
