// Package hasher produces hex SHA-256 fingerprints over streamed bytes.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"chunkcast/pkg/types"
)

// Factory creates the underlying digest. Tests swap it to simulate a digest
// that cannot be initialized.
type Factory func() hash.Hash

// HashInitError is returned when the digest primitive could not be created.
type HashInitError struct {
	Reason string
}

func (e *HashInitError) Error() string {
	return "failed to initialize digest: " + e.Reason
}

// Hasher accumulates a digest across any number of Write calls.
type Hasher struct {
	h hash.Hash
}

func New() (*Hasher, error) {
	return NewWith(sha256.New)
}

// NewWith creates a Hasher backed by the given digest factory.
func NewWith(factory Factory) (*Hasher, error) {
	if factory == nil {
		return nil, &HashInitError{Reason: "no digest factory"}
	}
	h := factory()
	if h == nil {
		return nil, &HashInitError{Reason: "digest factory returned nil"}
	}
	return &Hasher{h: h}, nil
}

// Write feeds p into the digest. It never returns an error.
func (hs *Hasher) Write(p []byte) (int, error) {
	return hs.h.Write(p)
}

// Sum returns the fingerprint of everything written since the last Reset.
// It does not change the running state.
func (hs *Hasher) Sum() types.Fingerprint {
	return types.Fingerprint(hex.EncodeToString(hs.h.Sum(nil)))
}

func (hs *Hasher) Reset() {
	hs.h.Reset()
}

// Sum returns the fingerprint of data in one call.
func Sum(data []byte) types.Fingerprint {
	sum := sha256.Sum256(data)
	return types.Fingerprint(hex.EncodeToString(sum[:]))
}
