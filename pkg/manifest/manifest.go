package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"chunkcast/pkg/types"
)

// Wire field names. They are part of the announcement format and must not change.
const (
	FieldFilename       = "filename"
	FieldFileSize       = "fileSize"
	FieldNumberOfChunks = "numberOfChunks"
	FieldChunkHashes    = "chunk_hashes"
	FieldFullFileHash   = "fullFileHash"
)

// Manifest describes one chunked file.
type Manifest struct {
	Filename       string              `json:"filename"`
	FileSize       int64               `json:"fileSize"`
	NumberOfChunks int                 `json:"numberOfChunks"`
	ChunkHashes    []types.Fingerprint `json:"chunk_hashes"`
	FullFileHash   types.Fingerprint   `json:"fullFileHash"`

	missing []string
}

// ParseError reports an inbound document that could not be decoded.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed manifest: %s: %v", e.Reason, e.Err)
	}
	return "malformed manifest: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// wireManifest mirrors Manifest with every field optional.
type wireManifest struct {
	Filename       *string              `json:"filename"`
	FileSize       *json.Number         `json:"fileSize"`
	NumberOfChunks *json.Number         `json:"numberOfChunks"`
	ChunkHashes    *[]types.Fingerprint `json:"chunk_hashes"`
	FullFileHash   *types.Fingerprint   `json:"fullFileHash"`
}

// Encode produces the compact form sent in one datagram.
func Encode(m *Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}

// EncodeIndent produces the human readable form persisted next to the chunks.
func EncodeIndent(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}

// Decode parses a manifest document. Absent fields are left at their zero
// value and reported by Missing; only malformed JSON or mistyped fields fail.
func Decode(data []byte) (*Manifest, error) {
	data = bytes.TrimRight(data, "\x00")
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Reason: "empty document"}
	}

	var w wireManifest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}
	if err := dec.Decode(&json.RawMessage{}); err != io.EOF {
		return nil, &ParseError{Reason: "trailing data after document", Err: err}
	}

	m := &Manifest{}
	if w.Filename != nil {
		m.Filename = *w.Filename
	} else {
		m.missing = append(m.missing, FieldFilename)
	}
	if w.FileSize != nil {
		n, err := numberToInt64(*w.FileSize)
		if err != nil {
			return nil, &ParseError{Reason: FieldFileSize, Err: err}
		}
		m.FileSize = n
	} else {
		m.missing = append(m.missing, FieldFileSize)
	}
	if w.NumberOfChunks != nil {
		n, err := numberToInt64(*w.NumberOfChunks)
		if err != nil {
			return nil, &ParseError{Reason: FieldNumberOfChunks, Err: err}
		}
		m.NumberOfChunks = int(n)
	} else {
		m.missing = append(m.missing, FieldNumberOfChunks)
	}
	if w.ChunkHashes != nil {
		m.ChunkHashes = *w.ChunkHashes
	} else {
		m.missing = append(m.missing, FieldChunkHashes)
	}
	if w.FullFileHash != nil {
		m.FullFileHash = *w.FullFileHash
	} else {
		m.missing = append(m.missing, FieldFullFileHash)
	}

	return m, nil
}

// numberToInt64 accepts integral JSON numbers, including exponent forms
// such as 1.2e6 that some encoders emit for doubles.
func numberToInt64(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer: %s", n)
	}
	return int64(f), nil
}

// Missing lists the fields that were absent from the decoded document.
func (m *Manifest) Missing() []string {
	return m.missing
}

// Has reports whether field was present when the manifest was decoded.
// Manifests built locally report every field as present.
func (m *Manifest) Has(field string) bool {
	for _, f := range m.missing {
		if f == field {
			return false
		}
	}
	return true
}

var ErrInvalid = errors.New("invalid manifest")

// Validate checks the producer side contract: every field populated and
// consistent with each other.
func (m *Manifest) Validate() error {
	var problems []string
	if len(m.missing) > 0 {
		problems = append(problems, "missing "+strings.Join(m.missing, ", "))
	}
	if m.Filename == "" {
		problems = append(problems, "empty filename")
	}
	if m.FileSize <= 0 {
		problems = append(problems, "non-positive file size")
	}
	if m.NumberOfChunks != len(m.ChunkHashes) {
		problems = append(problems, fmt.Sprintf("numberOfChunks %d does not match %d chunk hashes", m.NumberOfChunks, len(m.ChunkHashes)))
	}
	for i, h := range m.ChunkHashes {
		if !h.Valid() {
			problems = append(problems, fmt.Sprintf("chunk %d has invalid fingerprint", i))
			break
		}
	}
	if !m.FullFileHash.Valid() {
		problems = append(problems, "invalid fullFileHash")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
