package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-entities/internal/governance"
	"github.com/polisai/polis-entities/pkg/config"
	"github.com/polisai/polis-entities/pkg/server"
	"github.com/polisai/polis-entities/pkg/storage"
	"github.com/polisai/polis-entities/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP record ingress",
		Long: `Serve accepts records on POST /v1/records and answers with the processed
record. When a configuration file is given it is watched and the processor is
replaced whenever a valid revision is written.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.address)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cli, cfg, logger, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Address = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	builder := newProcessorBuilder(store, logger)
	processor, err := builder.Build(cfg)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Processor:    processor,
		Journal:      store,
		Limiter:      governance.NewLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst),
		Logger:       logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	if cli.Config != "" {
		provider, err := config.NewFileConfigProvider(cli.Config, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := provider.Close(); err != nil {
				logger.Error("failed to close config provider", "error", err)
			}
		}()
		go srv.Watch(ctx, provider.Subscribe(), builder.Build)
	}

	if _, err := srv.ListenAndServe(cfg.Server.Address, cfg.Server.TLS); err != nil {
		return err
	}
	logger.Info("polis-entities started",
		"action", string(processor.Action()),
		"engine", processor.Config().Engine,
		"storage", cfg.Storage.Driver,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}
	return nil
}
