package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"chunkcast/pkg/manifest"
	"chunkcast/pkg/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func verifyCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "verify <manifest.json>",
		Short: "Reassemble a file from the chunk store and check its fingerprints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}

			m, err := manifest.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := m.Validate(); err != nil {
				return err
			}

			compression, err := storage.ParseCompression(cfg.Compression)
			if err != nil {
				return err
			}
			store, err := storage.NewContentStore(cfg.ChunkDir, compression)
			if err != nil {
				return fmt.Errorf("failed to open chunk store: %w", err)
			}
			chunker := storage.NewChunkManagerWithOptions(store, storage.Options{
				ChunkSize: cfg.ChunkSize.Int(),
				MaxChunks: cfg.MaxChunks,
			}, logger)

			var w io.Writer = io.Discard
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()
				w = f
			}

			verr := chunker.Reassemble(context.Background(), m, w)
			fmt.Fprintln(cmd.OutOrStdout(), renderVerifyReport(m, verr))
			if verr != nil {
				logger.Error("Verification failed", zap.String("file", m.Filename), zap.Error(verr))
				return verr
			}
			logger.Debug("Verification passed", zap.String("file", m.Filename))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the reassembled file here")
	return cmd
}
