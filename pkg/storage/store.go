package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"chunkcast/pkg/hasher"
	"chunkcast/pkg/types"
)

// ContentStore keeps chunks in a flat directory, one file per fingerprint.
type ContentStore struct {
	dir         string
	compression Compression
}

func NewContentStore(dir string, compression Compression) (*ContentStore, error) {
	if _, err := ParseCompression(string(compression)); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}
	return &ContentStore{dir: dir, compression: compression}, nil
}

func (s *ContentStore) Dir() string {
	return s.dir
}

func (s *ContentStore) path(fp types.Fingerprint) string {
	return filepath.Join(s.dir, string(fp))
}

// Put stores data under fp. Storing the same bytes again is a no-op; storing
// different bytes under an existing fingerprint is refused.
func (s *ContentStore) Put(fp types.Fingerprint, data []byte) error {
	if !fp.Valid() {
		return fmt.Errorf("invalid fingerprint %q", fp)
	}
	if actual := hasher.Sum(data); actual != fp {
		return &FingerprintMismatchError{Fingerprint: fp, Actual: actual}
	}

	info, err := os.Stat(s.path(fp))
	switch {
	case err == nil:
		same, err := s.sameContent(fp, info.Size(), data)
		if err != nil {
			return err
		}
		if same {
			return nil
		}
		return &FingerprintMismatchError{Fingerprint: fp, Stored: true}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to stat chunk %s: %w", fp.Short(), err)
	}

	encoded, err := encodeChunk(s.compression, data)
	if err != nil {
		return err
	}

	// Concurrent writers of the same chunk each use their own temp file;
	// the final rename is atomic and both carry identical bytes.
	tmp, err := os.CreateTemp(s.dir, "."+string(fp)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write chunk %s: %w", fp.Short(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close chunk %s: %w", fp.Short(), err)
	}
	if err := os.Rename(tmp.Name(), s.path(fp)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store chunk %s: %w", fp.Short(), err)
	}
	return nil
}

// sameContent compares data with the chunk file of size bytes stored under
// fp. An encoded file is never larger than its chunk and a compressed one is
// always smaller, so size alone rules out most conflicts and picks between a
// raw and a decoded compare.
func (s *ContentStore) sameContent(fp types.Fingerprint, size int64, data []byte) (bool, error) {
	if size > int64(len(data)) {
		return false, nil
	}
	raw, err := os.ReadFile(s.path(fp))
	if err != nil {
		return false, fmt.Errorf("failed to read chunk %s: %w", fp.Short(), err)
	}
	if size == int64(len(data)) {
		return bytes.Equal(raw, data), nil
	}
	decoded, ok := decodeChunk(raw)
	return ok && bytes.Equal(decoded, data), nil
}

// Get returns the uncompressed bytes of a stored chunk after checking they
// still hash to fp.
func (s *ContentStore) Get(fp types.Fingerprint) ([]byte, error) {
	data, err := s.read(fp)
	if err != nil {
		return nil, err
	}
	if actual := hasher.Sum(data); actual != fp {
		return nil, &FingerprintMismatchError{Fingerprint: fp, Actual: actual, Stored: true}
	}
	return data, nil
}

func (s *ContentStore) Has(fp types.Fingerprint) bool {
	_, err := os.Stat(s.path(fp))
	return err == nil
}

// List returns the fingerprints of all stored chunks, sorted.
func (s *ContentStore) List() ([]types.Fingerprint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk directory: %w", err)
	}

	var out []types.Fingerprint
	for _, e := range entries {
		fp := types.Fingerprint(e.Name())
		if e.Type().IsRegular() && fp.Valid() {
			out = append(out, fp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// read loads a chunk file and strips any compression. A file whose header
// looks compressed but whose raw bytes are the chunk itself is returned raw.
func (s *ContentStore) read(fp types.Fingerprint) ([]byte, error) {
	raw, err := os.ReadFile(s.path(fp))
	if err != nil {
		return nil, err
	}
	if data, ok := decodeChunk(raw); ok && hasher.Sum(data) == fp {
		return data, nil
	}
	return raw, nil
}
