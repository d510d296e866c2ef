package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/sydlexius/intake/internal/api"
	"github.com/sydlexius/intake/internal/batchsync"
	"github.com/sydlexius/intake/internal/event"
	"github.com/sydlexius/intake/internal/scanner"
	"github.com/sydlexius/intake/internal/version"
	"github.com/sydlexius/intake/internal/watcher"
)

const (
	shutdownTimeout = 10 * time.Second
	throttleRPS     = 2
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and optionally watch scan roots)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("watch") {
				ctx.config.Watch.Enabled = watch
			}
			return runServer(cmd.Context(), ctx, nil)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch scan roots and rescan when new files appear")
	return cmd
}

// runServer blocks until ctx ends. When ready is non-nil it receives the
// bound address once the listener is up.
func runServer(ctx context.Context, cc *commandContext, ready chan<- string) error {
	cfg := cc.config
	logger := cc.logger

	lock := flock.New(cfg.Server.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", cfg.Server.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("another intake server holds %s", cfg.Server.LockFile)
	}
	defer lock.Unlock() //nolint:errcheck

	eventBus := event.NewBus(logger, 256)
	go eventBus.Start()
	defer eventBus.Stop()

	scannerService := cc.scannerService(eventBus)
	processor := cc.syncProcessor(eventBus)

	router := api.NewRouter(api.RouterDeps{
		ScannerService: scannerService,
		SyncProcessor:  processor,
		Vision:         cc.visionClient(),
		LogManager:     cc.logManager,
		EventBus:       eventBus,
		Logger:         logger,
		SyncDefaults: api.SyncDefaults{
			APIKey:    cfg.Sync.APIKey,
			BatchSize: cfg.Sync.BatchSize,
		},
		BasePath:    cfg.Server.BasePath,
		ThrottleRPS: throttleRPS,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Watch.Enabled {
		startWatcher(ctx, cc, scannerService, processor, eventBus)
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr(), err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:           router.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Synchronous scans and syncs can run long.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", ln.Addr().String()),
			slog.String("base_path", cfg.Server.BasePath),
			slog.String("version", version.String()),
		)
		serveErr <- srv.Serve(ln)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

func startWatcher(ctx context.Context, cc *commandContext, scannerService *scanner.Service, processor *batchsync.Processor, bus *event.Bus) {
	cfg := cc.config
	logger := cc.logger

	scanFn := func(ctx context.Context) error {
		results, err := scannerService.Scan(ctx, cfg.Scan)
		if err != nil {
			return err
		}
		if !cfg.Watch.AutoSync {
			return nil
		}
		report, err := processor.Sync(ctx, results, cfg.Sync.APIKey, cfg.Sync.BatchSize)
		if err != nil {
			return fmt.Errorf("auto-sync: %w", err)
		}
		logger.Info("auto-sync finished",
			"sync_id", report.ID,
			"synced", report.Synced,
			"failed", report.Failed,
		)
		return nil
	}

	probeCache := watcher.NewProbeCache()
	probeCache.ProbeAll(ctx, cfg.Scan.Paths, logger)

	svc := watcher.NewService(scanFn, cfg.Scan, bus, logger, probeCache)
	svc.SetDebounce(cfg.Watch.Debounce)
	svc.SetPollInterval(cfg.Watch.PollInterval)
	go svc.Start(ctx)
}
