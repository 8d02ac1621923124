// Package prefs persists small user preferences, such as the last deck,
// category and duration picked, in a JSON file.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

const (
	KeySelectedDeck     = "selectedDeck"
	KeySelectedCategory = "selectedCategory"
	KeySelectedDuration = "selectedDuration"
)

var selectionKeys = []string{KeySelectedDeck, KeySelectedCategory, KeySelectedDuration}

// Store is a key/value file. A missing file reads as empty.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a store backed by the file at path. The file is created on
// the first write.
func Open(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() (map[string]string, error) {
	values := map[string]string{}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	if len(b) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	return values, nil
}

func (s *Store) save(values map[string]string) error {
	b, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".prefs-*")
	if err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

// Remove deletes the given keys.
func (s *Store) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(values, k)
	}
	return s.save(values)
}

// ClearSelection forgets the last deck, category and duration picked.
func (s *Store) ClearSelection() error {
	return s.Remove(selectionKeys...)
}
