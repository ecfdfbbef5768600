package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store keeps named snapshots as JSON files in one directory, plus the
// implicit "last used" snapshot written after every recording.
type Store struct {
	dir string
}

const lastUsedName = ".last"

// DefaultDir returns the per-user snapshot directory.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tracetap", "sessions"), nil
}

// NewStore returns a store rooted at dir, creating it as needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("snapshot name is required")
	}
	if strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Save writes a named snapshot, replacing any existing one.
func (s *Store) Save(name string, snap *Snapshot) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a named snapshot. A missing name is an error; a snapshot
// written by another build loads with its unrecognized parts ignored
// at Apply time.
func (s *Store) Load(name string) (*Snapshot, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Delete removes a named snapshot.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// List returns the saved snapshot names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// SaveLastUsed records the snapshot restored by default on the next run.
func (s *Store) SaveLastUsed(snap *Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, lastUsedName+".json"), data, 0o644)
}

// LoadLastUsed returns the last-used snapshot, or nil when none exists.
func (s *Store) LoadLastUsed() (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, lastUsedName+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return Decode(data)
}
