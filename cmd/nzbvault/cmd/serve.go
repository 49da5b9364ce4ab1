package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nzbvault/nzbvault/internal/config"
	"github.com/nzbvault/nzbvault/internal/fetch"
	"github.com/nzbvault/nzbvault/internal/health"
	"github.com/nzbvault/nzbvault/internal/ingest"
	"github.com/nzbvault/nzbvault/internal/pool"
	"github.com/nzbvault/nzbvault/internal/sizeoracle"
	"github.com/nzbvault/nzbvault/internal/slogutil"
	"github.com/nzbvault/nzbvault/internal/store"
	"github.com/nzbvault/nzbvault/internal/webdav"
)

const ingestPollIntervalSeconds = 5

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebDAV gateway, ingestion worker, and health scheduler",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

// runServe wires C1/C3/C4/C8/C9/C10 into one running process, grounded
// on javi11-altmount/cmd/altmount/cmd/serve.go's construction order
// (pool before store before webdav), stripped of that file's frontend/
// auth/arrs/rclone wiring.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return err
	}
	cfg.EnvOverridePort()

	logger := slogutil.SetupLogRotation(cfg.Log)
	slog.SetDefault(logger)

	manager := pool.NewManager(cfg.Pool.GlobalMaxConns, cfg.Pool.IdleTimeoutSeconds)
	manager.SetProviders(cfg.ToProviders())
	defer manager.Shutdown()
	logger.Info("connection pool configured", "providers", len(cfg.Providers))

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open database", "err", err)
		return err
	}
	defer db.Close()

	vfs := store.New(db, manager, cfg.Streaming)

	oracle := sizeoracle.NewOracle(manager)
	ingestFetcher := fetch.NewFetcher(manager)
	pipeline := ingest.New(ingestFetcher, oracle, db.Repo, cfg.Import)
	ingestWorker := ingest.NewWorker(pipeline, db.Repo, ingestPollIntervalSeconds)

	checker := health.NewChecker(manager, db.Repo, cfg.Health.MaxConcurrentChecks, cfg.Health.FullHeadCheckFrequency)
	healthWorker := health.NewWorker(checker, db.Repo, cfg.Health.TickIntervalSeconds, cfg.Health.MaxConcurrentChecks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ingestWorker.Start(ctx); err != nil {
		logger.Error("failed to start ingestion worker", "err", err)
		return err
	}
	defer ingestWorker.Stop()

	if cfg.Health.Enabled {
		if err := healthWorker.Start(ctx); err != nil {
			logger.Error("failed to start health worker", "err", err)
			return err
		}
		defer healthWorker.Stop()
	} else {
		logger.Info("health worker disabled by config")
	}

	server := webdav.NewServer(cfg.WebDAV.Addr, vfs)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("nzbvault serving", "addr", cfg.WebDAV.Addr)
	if err := server.Start(sigCtx); err != nil {
		logger.Error("webdav server stopped with error", "err", err)
		return err
	}

	logger.Info("nzbvault shut down gracefully")
	return nil
}
