package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Saver persists a configuration. Callers treat it as best effort.
type Saver interface {
	Save(cfg *Configuration) error
}

// FileStore reads and writes the configuration document at a fixed path.
type FileStore struct {
	path string

	mu          sync.Mutex
	lastWritten []byte
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and validates the document. A missing file yields the defaults
// so a first run starts with an empty registry.
func (s *FileStore) Load() (*Configuration, []byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, data, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, data, err
	}
	return cfg, data, nil
}

// Save writes the document atomically through a temp file in the same directory.
func (s *FileStore) Save(cfg *Configuration) error {
	if cfg == nil {
		return errors.New("save config: nil configuration")
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	s.lastWritten = data
	return nil
}

// WroteLast reports whether data matches the most recent successful Save, so a
// file watcher can ignore the store's own writes.
func (s *FileStore) WroteLast(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWritten != nil && bytes.Equal(s.lastWritten, data)
}

var _ Saver = (*FileStore)(nil)
