package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/fleetplan/internal/observability"
	"github.com/3leaps/fleetplan/internal/server"
	"github.com/3leaps/fleetplan/internal/server/handlers"
	"github.com/3leaps/fleetplan/pkg/instancestore"
	"github.com/3leaps/fleetplan/pkg/planregistry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recorded plans over HTTP",
	Long: `Start a read-only HTTP server over the plan registry.

Endpoints:
  GET /plans                                   list plans (?deployment=)
  GET /plans/{id}                              full plan record
  GET /plans/{id}/jobs/{job}/spec              agent job spec
  GET /plans/{id}/jobs/{job}/package-spec      agent package spec
  GET /plans/{id}/jobs/{job}/properties        resolved properties
  GET /health, /health/live, /health/ready, /health/startup
  GET /version

Examples:
  fleetplan serve
  fleetplan serve --host 0.0.0.0 --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (default from config)")
	serveCmd.Flags().Int("port", 0, "Listen port (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadedConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	host := cfg.Server.Host
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		host = v
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}

	identity := GetAppIdentity()
	logger, err := observability.NewServerLogger(identity.BinaryName, cfg.Logging.Level)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to build server logger", err)
	}
	defer func() { _ = logger.Sync() }()

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("signals", signalHealthChecker{})
	hm.RegisterChecker("identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})
	hm.RegisterChecker("plan_registry", planRegistryHealthChecker{dir: cfg.Plans.Dir})
	hm.RegisterChecker("instance_db", instanceDBHealthChecker{path: cfg.InstanceStore.Path})

	srv := server.New(host, port,
		server.WithLogger(logger),
		server.WithPlanStore(planregistry.NewStore(cfg.Plans.Dir)),
		server.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		server.WithTimeouts(server.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		}))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitError(foundry.ExitSignalInt, "Graceful shutdown failed", err)
	}
	return <-errCh
}

// signalHealthChecker reports healthy while the process handles signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// identityHealthChecker fails when the app identity is incomplete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return fmt.Errorf("app identity missing binary name")
	case c.envPrefix == "":
		return fmt.Errorf("app identity missing env prefix")
	case c.configName == "":
		return fmt.Errorf("app identity missing config name")
	}
	return nil
}

// planRegistryHealthChecker fails when the registry directory exists but is
// not a readable directory. A missing directory is healthy: no plans yet.
type planRegistryHealthChecker struct {
	dir string
}

func (c planRegistryHealthChecker) CheckHealth(ctx context.Context) error {
	if c.dir == "" {
		return fmt.Errorf("plan registry dir not configured")
	}
	info, err := os.Stat(c.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("plan registry path %s is not a directory", c.dir)
	}
	_, err = os.ReadDir(c.dir)
	return err
}

// instanceDBHealthChecker opens the instance database and applies the schema.
// A missing file is healthy: nothing has been planned with persistence yet.
type instanceDBHealthChecker struct {
	path string
}

func (c instanceDBHealthChecker) CheckHealth(ctx context.Context) error {
	if c.path == "" {
		return fmt.Errorf("instance database path not configured")
	}
	if c.path != ":memory:" && !strings.HasPrefix(c.path, "file:") {
		if _, err := os.Stat(c.path); os.IsNotExist(err) {
			return nil
		}
	}
	db, err := instancestore.Open(ctx, instancestore.Config{Path: c.path})
	if err != nil {
		return err
	}
	return db.Close()
}
