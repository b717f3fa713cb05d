package storage

import (
	"errors"
	"fmt"

	"chunkcast/pkg/types"
	"chunkcast/pkg/utils"
)

var (
	// ErrEmptyFile is returned for zero-length input. Empty files are never announced.
	ErrEmptyFile = errors.New("file is empty")

	// ErrCapacity is the class of errors raised when a bounded table is full.
	ErrCapacity = utils.ErrCapacity
)

// TooManyChunksError is returned when a file needs more chunks than the
// configured ceiling allows.
type TooManyChunksError struct {
	Name  string
	Limit int
}

func (e *TooManyChunksError) Error() string {
	return fmt.Sprintf("file %s needs more than %d chunks", e.Name, e.Limit)
}

func (e *TooManyChunksError) Is(target error) bool {
	return target == ErrCapacity
}

// FingerprintMismatchError means bytes did not hash to the fingerprint they
// were stored or requested under.
type FingerprintMismatchError struct {
	Fingerprint types.Fingerprint
	Actual      types.Fingerprint
	Stored      bool // true when the conflict is with content already on disk
}

func (e *FingerprintMismatchError) Error() string {
	if e.Stored {
		return fmt.Sprintf("chunk %s already stored with different content", e.Fingerprint)
	}
	return fmt.Sprintf("chunk content hashes to %s, not %s", e.Actual, e.Fingerprint)
}
