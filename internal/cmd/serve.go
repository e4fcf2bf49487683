package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scenfuzz/scenfuzz/internal/config"
	"github.com/scenfuzz/scenfuzz/internal/observability"
	"github.com/scenfuzz/scenfuzz/internal/server"
	"github.com/scenfuzz/scenfuzz/internal/server/handlers"
	"github.com/scenfuzz/scenfuzz/pkg/carlaenv"
	"github.com/scenfuzz/scenfuzz/pkg/experiment"
	"github.com/scenfuzz/scenfuzz/pkg/expstore"
	"github.com/scenfuzz/scenfuzz/pkg/logstream"
	"github.com/scenfuzz/scenfuzz/pkg/params"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the experiment API server",
	Long: `Start the scenfuzz HTTP server.

The server opens the experiment database, recovers experiments left in
flight by a previous process, and serves the REST API with live log
streaming until interrupted.

Examples:
  scenfuzz serve
  scenfuzz serve --host 0.0.0.0 --port 9000
  SCENFUZZ_DB_PATH=/data/experiments.db scenfuzz serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverOverride := map[string]any{}
	if cmd.Flags().Changed("host") {
		serverOverride["host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		serverOverride["port"] = servePort
	}
	var overrides []map[string]any
	if len(serverOverride) > 0 {
		overrides = append(overrides, map[string]any{"server": serverOverride})
	}

	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "failed to load configuration", err)
	}

	logger, err := observability.NewServerLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := expstore.Open(ctx, expstore.Config{Path: cfg.Storage.DatabasePath})
	if err != nil {
		return exitError(foundry.ExitFileReadError, "failed to open experiment database", err)
	}
	defer func() { _ = store.Close() }()

	hub := logstream.NewHub()
	defer hub.Close()

	var cleaner experiment.EnvCleaner
	if cfg.Cleanup.Enabled {
		cleaner = carlaenv.New(carlaenv.Config{Ports: cfg.Cleanup.Ports}, logger)
	}

	mgr := experiment.NewManager(ctx, experiment.ManagerConfig{
		Durable: store,
		Hub:     hub,
		Cleaner: cleaner,
		Runner: experiment.RunnerOptions{
			PythonBin:      cfg.Runner.PythonBin,
			ScriptPath:     cfg.Runner.ScriptPath,
			HardTimeout:    cfg.Runner.HardTimeout,
			PollInterval:   cfg.Runner.PollInterval,
			InactivityWarn: cfg.Runner.InactivityWarn,
			KillGrace:      cfg.Runner.KillGrace,
		},
		OutputBaseDir: cfg.Runner.OutputBaseDir,
		RecoveryLimit: cfg.Recovery.Limit,
		Logger:        logger,
	})

	handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)

	if cfg.Health.Enabled {
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal", signalHealthChecker{})
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: config.BinaryName,
			envPrefix:  config.EnvPrefix,
			configName: config.ConfigName,
		})
		hm.RegisterChecker("store", storeHealthChecker{store: store})
		hm.RegisterChecker("runner", runnerHealthChecker{script: cfg.Runner.ScriptPath})
	}

	api := handlers.NewAPI(handlers.APIConfig{
		Manager:   mgr,
		Hub:       hub,
		Params:    params.NewManager(cfg.Storage.ParameterRangesPath),
		RoutesDir: cfg.Runner.RoutesDir,
		Logger:    logger,
	})

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithAPI(api),
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("server started",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
		zap.String("database", cfg.Storage.DatabasePath),
		zap.Bool("readonly", isReadOnly()),
	)

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("experiment shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitError(foundry.ExitSignalInt, "forced shutdown", err)
	}

	logger.Info("server stopped")
	return nil
}

// signalHealthChecker reports healthy as long as the process can run
// handlers at all.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(_ context.Context) error {
	return nil
}

// identityHealthChecker verifies the application identity is fully
// populated, since config and env resolution depend on it.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(_ context.Context) error {
	if c.binaryName == "" {
		return errors.New("app identity missing binary name")
	}
	if c.envPrefix == "" {
		return errors.New("app identity missing env prefix")
	}
	if c.configName == "" {
		return errors.New("app identity missing config name")
	}
	return nil
}

// storeHealthChecker pings the experiment database.
type storeHealthChecker struct {
	store *expstore.Store
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// runnerHealthChecker verifies the simulation runner script exists. A
// missing script means every Start call would fail immediately.
type runnerHealthChecker struct {
	script string
}

func (c runnerHealthChecker) CheckHealth(_ context.Context) error {
	if _, err := os.Stat(c.script); err != nil {
		return fmt.Errorf("runner script %s: %w", c.script, err)
	}
	return nil
}
