// Package announcer drives the chunking side: every configured file is
// chunked into the content store, its manifest persisted and then sent to
// the group as one datagram.
package announcer

import (
	"context"
	"fmt"
	"path/filepath"

	"chunkcast/pkg/manifest"
	"chunkcast/pkg/storage"
	"chunkcast/pkg/transport"

	"go.uber.org/zap"
)

// Result is what happened to one file.
type Result struct {
	File         string
	Manifest     *manifest.Manifest
	ManifestPath string
	// PayloadSize is the encoded datagram length, set once encoding succeeds.
	PayloadSize int
	Sent        bool
	Err         error
}

type Announcer struct {
	archiveDir string
	chunker    *storage.ChunkManager
	manifests  *manifest.Store
	sender     transport.Sender
	logger     *zap.Logger
}

func New(archiveDir string, chunker *storage.ChunkManager, manifests *manifest.Store, sender transport.Sender, logger *zap.Logger) *Announcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{
		archiveDir: archiveDir,
		chunker:    chunker,
		manifests:  manifests,
		sender:     sender,
		logger:     logger,
	}
}

// Run announces files in order. A file that fails is logged and recorded in
// its Result; the rest are still processed. Nothing is retried. The returned
// error is non-nil only when ctx ends the run early.
func (a *Announcer) Run(ctx context.Context, files []string) ([]Result, error) {
	results := make([]Result, 0, len(files))
	failed := 0

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := a.Announce(ctx, name)
		if res.Err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			failed++
			a.logger.Error("Failed to announce file",
				zap.String("file", name),
				zap.Error(res.Err))
		}
		results = append(results, res)
	}

	a.logger.Info("Finished announcing files",
		zap.Int("announced", len(results)-failed),
		zap.Int("failed", failed))
	return results, nil
}

// Announce chunks, persists and sends a single file from the archive
// directory.
func (a *Announcer) Announce(ctx context.Context, name string) Result {
	res := Result{File: name}

	m, err := a.chunker.Chunk(ctx, filepath.Join(a.archiveDir, name))
	if err != nil {
		res.Err = err
		return res
	}
	res.Manifest = m

	if err := m.Validate(); err != nil {
		res.Err = err
		return res
	}

	path, err := a.manifests.Save(m)
	if err != nil {
		res.Err = err
		return res
	}
	res.ManifestPath = path

	payload, err := manifest.Encode(m)
	if err != nil {
		res.Err = fmt.Errorf("failed to encode manifest: %w", err)
		return res
	}
	res.PayloadSize = len(payload)

	if err := a.sender.Send(ctx, payload); err != nil {
		res.Err = err
		return res
	}
	res.Sent = true

	a.logger.Info("Sent manifest",
		zap.String("file", name),
		zap.Int64("size", m.FileSize),
		zap.Int("chunks", m.NumberOfChunks),
		zap.Int("payload_bytes", len(payload)),
		zap.String("full_hash", m.FullFileHash.Short()))
	return res
}
