package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chunkcast/pkg/config"
	"chunkcast/pkg/registry"
	"chunkcast/pkg/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func registryCmd() *cobra.Command {
	var (
		maxPeers       int
		workers        int
		metricsAddress string
		healthAddress  string
		quiet          bool
	)

	cmd := &cobra.Command{
		Use:   "registry <port>",
		Short: "Listen on the group and record which peers hold which files",
		Long: `Join the multicast group and merge every received manifest into an
in-memory table keyed by whole-file fingerprint. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("max-peers") {
				cfg.MaxPeers = maxPeers
			}
			if flags.Changed("workers") {
				cfg.Workers = workers
			}
			if flags.Changed("metrics-address") {
				cfg.MetricsAddress = metricsAddress
			}
			if flags.Changed("health-address") {
				cfg.HealthAddress = healthAddress
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			group, err := transport.ParseGroup(cfg.Group, cfg.Port)
			if err != nil {
				return err
			}
			receiver, err := transport.ListenGroup(group, cfg.Interface, cfg.MaxDatagram.Int(), logger)
			if err != nil {
				return fmt.Errorf("failed to join group: %w", err)
			}
			defer receiver.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runRegistry(ctx, cmd, cfg, receiver, quiet, logger)
		},
	}

	cmd.Flags().IntVar(&maxPeers, "max-peers", registry.DefaultCapacity, "peers recorded per file")
	cmd.Flags().IntVar(&workers, "workers", 1, "datagrams decoded and merged concurrently")
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "serve /metrics and the inspection API on this address")
	cmd.Flags().StringVar(&healthAddress, "health-address", "", "serve gRPC health checks on this address")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the registry after each change")

	return cmd
}

func runRegistry(ctx context.Context, cmd *cobra.Command, cfg *config.Config, receiver transport.Receiver, quiet bool, logger *zap.Logger) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg := registry.New(
		registry.WithCapacity(cfg.MaxPeers),
		registry.WithMetrics(registry.NewMetrics(promReg)),
		registry.WithLogger(logger),
	)

	out := cmd.OutOrStdout()
	var outMu sync.Mutex
	svc := registry.NewService(reg, receiver, registry.ServiceOptions{
		Workers: cfg.Workers,
		OnChange: func(a registry.Announcement) {
			if quiet {
				return
			}
			outMu.Lock()
			defer outMu.Unlock()
			fmt.Fprintln(out, renderManifestPanel(a))
			fmt.Fprintln(out, renderRegistryTable(reg.Entries()))
		},
	}, logger)

	if cfg.MetricsAddress != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           registry.NewRouter(reg, promReg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Starting metrics server", zap.String("address", cfg.MetricsAddress))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var health *registry.HealthServer
	if cfg.HealthAddress != "" {
		lis, err := net.Listen("tcp", cfg.HealthAddress)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.HealthAddress, err)
		}
		health = registry.NewHealthServer(logger)
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error("Health server failed", zap.Error(err))
			}
		}()
		defer health.Stop()
		health.SetServing(true)
	}

	logger.Info("Registry listening",
		zap.String("group", cfg.Group),
		zap.Int("port", cfg.Port),
		zap.Int("max_peers", cfg.MaxPeers),
		zap.Int("workers", cfg.Workers))

	err := svc.Run(ctx)
	if health != nil {
		health.SetServing(false)
	}

	stats := reg.Stats()
	logger.Info("Registry stopped",
		zap.Int("entries", stats.Entries),
		zap.Int("peers", stats.Peers),
		zap.Uint64("dropped", stats.Dropped))

	if err != nil && !errors.Is(err, transport.ErrClosed) {
		return err
	}
	return nil
}
