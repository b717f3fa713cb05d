package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists one indented manifest document per source file under a
// flat directory, named <filename>.json.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Path returns where the manifest for filename is kept.
func (s *Store) Path(filename string) string {
	base := filepath.Base(filename)
	return filepath.Join(s.dir, base+".json")
}

func (s *Store) Save(m *Manifest) (string, error) {
	if strings.TrimSpace(m.Filename) == "" {
		return "", fmt.Errorf("cannot save manifest without filename")
	}
	data, err := EncodeIndent(m)
	if err != nil {
		return "", err
	}

	path := s.Path(m.Filename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to store manifest: %w", err)
	}
	return path, nil
}

func (s *Store) Load(filename string) (*Manifest, error) {
	return LoadFile(s.Path(filename))
}

// LoadFile reads and decodes a manifest document from an arbitrary path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Decode(data)
}
