// fixd daemon -- FIX session engine (acceptor/initiator).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fixwire/fixd/internal/config"
	"github.com/fixwire/fixd/internal/engine"
	"github.com/fixwire/fixd/internal/fix"
	"github.com/fixwire/fixd/internal/fix/store"
	fixmetrics "github.com/fixwire/fixd/internal/metrics"
	"github.com/fixwire/fixd/internal/server"
	appversion "github.com/fixwire/fixd/internal/version"
)

// shutdownTimeout is the maximum time to wait for the admin HTTP server
// to drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "fixd",
		Short:         "FIX session engine daemon",
		Long:          "fixd runs FIX acceptor and initiator sessions from a QuickFIX-style settings file.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// versionCmd prints build information.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print fixd build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("fixd"))
		},
	}
}

// serveCmd runs the daemon.
func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the FIX engine",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to daemon configuration file (YAML)")
	return cmd
}

// run loads configuration, assembles the engine, and blocks until a
// termination signal.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	logger.Info("fixd starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("settings", cfg.Settings),
	)

	profiles, err := config.LoadSessionSettings(cfg.Settings)
	if err != nil {
		return fmt.Errorf("load session settings: %w", err)
	}

	stores, closeStores, err := newStoreFactory(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStores()

	reg := prometheus.NewRegistry()
	collector := fixmetrics.NewCollector(reg)
	registry := fix.NewRegistry()

	deps := &engine.Deps{
		App:      fix.NullApplication{},
		Stores:   stores,
		Registry: registry,
		Metrics:  collector,
		Logger:   logger,
	}

	return runEngines(cfg, profiles, deps, reg, logger)
}

// runEngines starts the acceptor/initiator and the admin server, then
// waits for shutdown.
func runEngines(
	cfg *config.Config,
	profiles []*config.SessionProfile,
	deps *engine.Deps,
	reg *prometheus.Registry,
	logger *slog.Logger,
) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	acceptorProfiles, initiatorProfiles := splitProfiles(profiles)

	var acceptor *engine.Acceptor
	if len(acceptorProfiles) > 0 {
		var err error
		acceptor, err = engine.NewAcceptor(acceptorProfiles, deps)
		if err != nil {
			return fmt.Errorf("build acceptor: %w", err)
		}
		if err := acceptor.Start(ctx); err != nil {
			return fmt.Errorf("start acceptor: %w", err)
		}
		defer acceptor.Stop()
	}

	var initiator *engine.Initiator
	if len(initiatorProfiles) > 0 {
		var err error
		initiator, err = engine.NewInitiator(initiatorProfiles, deps)
		if err != nil {
			return fmt.Errorf("build initiator: %w", err)
		}
		if err := initiator.Start(ctx); err != nil {
			return fmt.Errorf("start initiator: %w", err)
		}
		defer initiator.Stop()
	}

	adminSrv := server.New(deps.Registry, reg, cfg.Admin.Addr, logger)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return adminSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("fixd stopped")
	return nil
}

// splitProfiles partitions the session profiles by connection type.
func splitProfiles(profiles []*config.SessionProfile) (acceptors, initiators []*config.SessionProfile) {
	for _, p := range profiles {
		if p.ConnectionType == config.ConnectionAcceptor {
			acceptors = append(acceptors, p)
		} else {
			initiators = append(initiators, p)
		}
	}
	return acceptors, initiators
}

// newLogger builds the root slog logger from the log config.
func newLogger(lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(lc.Level)}
	var handler slog.Handler
	if lc.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newStoreFactory builds the configured message-store backend.
func newStoreFactory(sc config.StoreConfig) (store.Factory, func(), error) {
	switch sc.Backend {
	case config.StoreBackendMemory:
		return store.MemoryFactory{}, func() {}, nil
	case config.StoreBackendFile:
		return store.FileFactory{Dir: sc.Dir}, func() {}, nil
	case config.StoreBackendBadger:
		factory, err := store.OpenBadger(sc.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open message store: %w", err)
		}
		return factory, func() { factory.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownStoreBackend, sc.Backend)
	}
}
