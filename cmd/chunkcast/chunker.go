package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chunkcast/pkg/announcer"
	"chunkcast/pkg/config"
	"chunkcast/pkg/manifest"
	"chunkcast/pkg/storage"
	"chunkcast/pkg/transport"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func chunkerCmd() *cobra.Command {
	var (
		files       []string
		archiveDir  string
		compression string
		workers     int
		chunkSize   config.Size
	)

	cmd := &cobra.Command{
		Use:   "chunker <port>",
		Short: "Chunk the archive and announce every file",
		Long: `Split each configured file into fixed-size chunks, store them by
fingerprint, persist the manifest and send it to the multicast group.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("files") {
				cfg.Files = files
			}
			if flags.Changed("archive-dir") {
				cfg.ArchiveDir = archiveDir
			}
			if flags.Changed("compression") {
				cfg.Compression = compression
			}
			if flags.Changed("workers") {
				cfg.Workers = workers
			}
			if flags.Changed("chunk-size") {
				cfg.ChunkSize = chunkSize
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ann, closeSender, err := buildAnnouncer(cfg, logger)
			if err != nil {
				return err
			}
			defer closeSender()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("Starting chunker",
				zap.String("group", cfg.Group),
				zap.Int("port", cfg.Port),
				zap.Int("files", len(cfg.Files)),
				zap.String("chunk_size", cfg.ChunkSize.String()))

			results, err := ann.Run(ctx, cfg.Files)
			fmt.Fprintln(cmd.OutOrStdout(), renderAnnounceReport(results))
			if err != nil {
				return fmt.Errorf("announcing interrupted: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&files, "files", nil, "files to announce, relative to the archive directory")
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "directory holding the files to announce")
	cmd.Flags().StringVar(&compression, "compression", "", "chunk compression at rest (none, gzip, zstd)")
	cmd.Flags().IntVar(&workers, "workers", 1, "chunks hashed and stored concurrently per file")
	cmd.Flags().Var(&chunkSize, "chunk-size", "chunk size, e.g. 500KiB")

	return cmd
}

func buildAnnouncer(cfg *config.Config, logger *zap.Logger) (*announcer.Announcer, func(), error) {
	compression, err := storage.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewContentStore(cfg.ChunkDir, compression)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open chunk store: %w", err)
	}
	manifests, err := manifest.NewStore(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open manifest store: %w", err)
	}

	chunker := storage.NewChunkManagerWithOptions(store, storage.Options{
		ChunkSize: cfg.ChunkSize.Int(),
		MaxChunks: cfg.MaxChunks,
		Workers:   cfg.Workers,
	}, logger)

	group, err := transport.ParseGroup(cfg.Group, cfg.Port)
	if err != nil {
		return nil, nil, err
	}
	sender, err := transport.DialGroup(group, transport.SenderOptions{
		MaxDatagram: cfg.MaxDatagram.Int(),
		TTL:         cfg.TTL,
		Loopback:    cfg.Loopback,
		Interface:   cfg.Interface,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open group socket: %w", err)
	}

	closeSender := func() {
		if err := sender.Close(); err != nil {
			logger.Warn("Failed to close sender", zap.Error(err))
		}
	}
	return announcer.New(cfg.ArchiveDir, chunker, manifests, sender, logger), closeSender, nil
}
