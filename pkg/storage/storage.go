package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"chunkcast/pkg/hasher"
	"chunkcast/pkg/manifest"
	"chunkcast/pkg/types"
	"chunkcast/pkg/utils"

	"go.uber.org/zap"
)

const (
	DefaultChunkSize = 500 * 1024 // 500KiB chunks
	DefaultMaxChunks = 100
)

type Options struct {
	ChunkSize int
	MaxChunks int
	// Workers > 1 hashes and stores chunks of one file concurrently.
	Workers int
}

type ChunkManager struct {
	chunkSize int
	maxChunks int
	workers   int
	store     *ContentStore
	newHasher func() (*hasher.Hasher, error)
	logger    *zap.Logger
}

func NewChunkManager(store *ContentStore, logger *zap.Logger) *ChunkManager {
	return NewChunkManagerWithOptions(store, Options{}, logger)
}

// NewChunkManagerWithOptions creates a ChunkManager with custom options
func NewChunkManagerWithOptions(store *ContentStore, opts Options, logger *zap.Logger) *ChunkManager {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = DefaultMaxChunks
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChunkManager{
		chunkSize: opts.ChunkSize,
		maxChunks: opts.MaxChunks,
		workers:   opts.Workers,
		store:     store,
		newHasher: hasher.New,
		logger:    logger,
	}
}

func (cm *ChunkManager) ChunkSize() int {
	return cm.chunkSize
}

func (cm *ChunkManager) MaxChunks() int {
	return cm.maxChunks
}

// Chunk splits the file at path, stores every chunk and returns its manifest.
// The manifest filename is the base name of path.
func (cm *ChunkManager) Chunk(ctx context.Context, path string) (*manifest.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	// regular files are checked against the ceiling before any chunk is written
	if info.Mode().IsRegular() {
		chunkSize := int64(cm.chunkSize)
		if needed := (info.Size() + chunkSize - 1) / chunkSize; needed > int64(cm.maxChunks) {
			return nil, &TooManyChunksError{Name: name, Limit: cm.maxChunks}
		}
	}

	return cm.ChunkReader(ctx, name, f)
}

// ChunkReader reads r in fixed windows of ChunkSize bytes. Each window is
// fingerprinted, stored and appended to the chunk list, and fed to a second
// digest accumulating the whole-file fingerprint.
func (cm *ChunkManager) ChunkReader(ctx context.Context, name string, r io.Reader) (*manifest.Manifest, error) {
	whole, err := cm.newHasher()
	if err != nil {
		return nil, err
	}

	var (
		hashes *utils.BoundedList[types.Fingerprint]
		size   int64
	)
	if cm.workers > 1 {
		hashes, size, err = cm.splitConcurrent(ctx, name, r, whole)
	} else {
		hashes, size, err = cm.splitSequential(ctx, name, r, whole)
	}
	if err != nil {
		return nil, err
	}

	if size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, name)
	}

	m := &manifest.Manifest{
		Filename:       name,
		FileSize:       size,
		NumberOfChunks: hashes.Len(),
		ChunkHashes:    hashes.Items(),
		FullFileHash:   whole.Sum(),
	}

	cm.logger.Debug("Chunked file",
		zap.String("file", name),
		zap.Int64("size", size),
		zap.Int("chunks", m.NumberOfChunks),
		zap.String("full_hash", m.FullFileHash.Short()))

	return m, nil
}

// readWindow fills buf from r. last is true when r is exhausted.
func readWindow(r io.Reader, buf []byte) (n int, last bool, err error) {
	n, err = io.ReadFull(r, buf)
	switch {
	case err == io.EOF:
		return 0, true, nil
	case err == io.ErrUnexpectedEOF:
		return n, true, nil
	case err != nil:
		return n, false, fmt.Errorf("failed to read data: %w", err)
	}
	return n, false, nil
}

// storeChunk writes one fingerprinted window to the content store.
func (cm *ChunkManager) storeChunk(name string, c types.Chunk) error {
	if err := cm.store.Put(c.Fingerprint, c.Data); err != nil {
		return fmt.Errorf("failed to store chunk %d of %s: %w", c.Index, name, err)
	}
	cm.logger.Debug("Stored chunk",
		zap.String("file", name),
		zap.Int("index", c.Index),
		zap.Int64("size", c.Size),
		zap.String("fingerprint", c.Fingerprint.Short()))
	return nil
}

func (cm *ChunkManager) splitSequential(ctx context.Context, name string, r io.Reader, whole *hasher.Hasher) (*utils.BoundedList[types.Fingerprint], int64, error) {
	chunkHash, err := cm.newHasher()
	if err != nil {
		return nil, 0, err
	}

	hashes := utils.NewBoundedList[types.Fingerprint](cm.maxChunks)
	buffer := make([]byte, cm.chunkSize)
	var size int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		n, last, err := readWindow(r, buffer)
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			break
		}
		if hashes.Full() {
			return nil, 0, &TooManyChunksError{Name: name, Limit: cm.maxChunks}
		}

		data := buffer[:n]
		chunkHash.Reset()
		chunkHash.Write(data)
		chunk := types.Chunk{
			Index:       hashes.Len(),
			Fingerprint: chunkHash.Sum(),
			Size:        int64(n),
			Data:        data,
		}

		if err := cm.storeChunk(name, chunk); err != nil {
			return nil, 0, err
		}
		if _, err := hashes.Append(chunk.Fingerprint); err != nil {
			return nil, 0, err
		}
		whole.Write(data)
		size += int64(n)

		if last {
			break
		}
	}

	return hashes, size, nil
}

// splitConcurrent reads and feeds the whole-file digest in order on the
// calling goroutine while a fixed pool hashes and stores windows. Each
// worker writes its fingerprint back at the window's index.
func (cm *ChunkManager) splitConcurrent(ctx context.Context, name string, r io.Reader, whole *hasher.Hasher) (*utils.BoundedList[types.Fingerprint], int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hashes := utils.NewBoundedList[types.Fingerprint](cm.maxChunks)
	jobs := make(chan types.Chunk, cm.workers)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < cm.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					continue
				}
				job.Fingerprint = hasher.Sum(job.Data)
				if err := cm.storeChunk(name, job); err != nil {
					fail(err)
					continue
				}
				if err := hashes.Set(job.Index, job.Fingerprint); err != nil {
					fail(err)
				}
			}
		}()
	}

	var size int64
	readErr := func() error {
		defer close(jobs)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			buffer := make([]byte, cm.chunkSize)
			n, last, err := readWindow(r, buffer)
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			if hashes.Full() {
				return &TooManyChunksError{Name: name, Limit: cm.maxChunks}
			}

			index, err := hashes.Append("")
			if err != nil {
				return err
			}
			whole.Write(buffer[:n])
			size += int64(n)

			select {
			case jobs <- types.Chunk{Index: index, Size: int64(n), Data: buffer[:n]}:
			case <-ctx.Done():
				return ctx.Err()
			}

			if last {
				return nil
			}
		}
	}()

	wg.Wait()

	if firstErr != nil {
		return nil, 0, firstErr
	}
	if readErr != nil {
		return nil, 0, readErr
	}
	return hashes, size, nil
}

// Reassemble writes the original file described by m to w, reading chunks
// back from the store. Every chunk and the whole-file fingerprint are
// verified.
func (cm *ChunkManager) Reassemble(ctx context.Context, m *manifest.Manifest, w io.Writer) error {
	if m.NumberOfChunks != len(m.ChunkHashes) {
		return fmt.Errorf("%w: numberOfChunks %d does not match %d chunk hashes", manifest.ErrInvalid, m.NumberOfChunks, len(m.ChunkHashes))
	}

	whole, err := cm.newHasher()
	if err != nil {
		return err
	}

	var written int64
	for i, fp := range m.ChunkHashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := cm.store.Get(fp)
		if err != nil {
			return fmt.Errorf("failed to read chunk %d (%s): %w", i, fp.Short(), err)
		}
		whole.Write(data)
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write chunk data: %w", err)
		}
		written += int64(len(data))
	}

	if actual := whole.Sum(); actual != m.FullFileHash {
		return &FingerprintMismatchError{Fingerprint: m.FullFileHash, Actual: actual}
	}
	if written != m.FileSize {
		return fmt.Errorf("reassembled %d bytes, manifest says %d", written, m.FileSize)
	}
	return nil
}

// IsCapacity reports whether err is a capacity error (chunk ceiling or a
// full bounded list).
func IsCapacity(err error) bool {
	return errors.Is(err, ErrCapacity)
}
