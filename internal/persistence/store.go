package persistence

import (
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/streamctl/internal/errors"
)

// Store holds a single record. Load returns an ErrNotFound error when
// nothing has been saved yet.
type Store interface {
	Load() ([]byte, error)
	Save(record []byte) error
	Close() error
}

// FileStore keeps the record in one file and replaces it atomically.
type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.New().Wrap(ErrStoreOpen, err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, errors.New().New(ErrNotFound)
	}
	if err != nil {
		return nil, errors.New().Wrap(ErrStoreRead, err)
	}
	return data, nil
}

func (s *FileStore) Save(record []byte) error {
	errFactory := errors.New()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(record); err != nil {
		tmp.Close()
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	return nil
}

func (*FileStore) Close() error { return nil }

// MemoryStore keeps the record in memory. It backs the "none" persistence
// backend and tests.
type MemoryStore struct {
	mu     sync.Mutex
	record []byte
	saves  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil, errors.New().New(ErrNotFound)
	}
	out := make([]byte, len(s.record))
	copy(out, s.record)
	return out, nil
}

func (s *MemoryStore) Save(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = append([]byte(nil), record...)
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (*MemoryStore) Close() error { return nil }
