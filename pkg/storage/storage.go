// Package storage persists the corpus as a single JSON document.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/amosWeiskopf/compwatch/internal/models"
)

// ErrWrite is returned when the corpus cannot be written durably.
var ErrWrite = errors.New("corpus write failed")

var removeFile = os.Remove

// Store reads and writes the corpus file at a fixed path
type Store struct {
	path string
}

// New creates a Store for path
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the corpus file location
func (s *Store) Path() string {
	return s.path
}

// Load reads the corpus. A missing file yields an empty corpus.
func (s *Store) Load() (*models.Corpus, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &models.Corpus{Content: []models.ContentRecord{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", s.path, err)
	}

	var corpus models.Corpus
	if err := json.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("decode corpus %s: %w", s.path, err)
	}
	if corpus.Content == nil {
		corpus.Content = []models.ContentRecord{}
	}
	return &corpus, nil
}

// Save writes the corpus atomically: a temp file in the same directory is
// synced and then renamed over the target, so readers never observe a
// partial document.
func (s *Store) Save(corpus *models.Corpus) error {
	data, err := json.MarshalIndent(corpus, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrWrite, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// CheckWritable verifies the corpus directory accepts new files before a
// run spends time fetching.
func (s *Store) CheckWritable() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	probe, err := os.CreateTemp(dir, ".compwatch-probe-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	name := probe.Name()
	probe.Close()
	if err := removeFile(name); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}
