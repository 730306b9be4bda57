// Package cmd implements the fleetplan command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/fleetplan/internal/config"
	"github.com/3leaps/fleetplan/internal/observability"
	"github.com/3leaps/fleetplan/internal/server/handlers"
)

// AppIdentity names the binary for banners, env vars and config discovery.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var (
	appIdentity *AppIdentity

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

	verbose  bool
	logLevel string
	plansDir string
	dbPath   string
)

var rootCmd = &cobra.Command{
	Use:   "fleetplan",
	Short: "Bind deployment manifests into per-job plans",
	Long: `fleetplan reads a deployment manifest, binds every job to its release
templates, compiled packages, properties, VMs and network reservations, and
records the resulting plan.

Examples:
  fleetplan plan deploy.yml
  fleetplan plan s3://manifests/cf.yml --region us-east-1
  fleetplan plans list
  fleetplan serve --port 8080`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
	pf.StringVar(&logLevel, "log-level", "", "Server log level (debug, info, warn, error)")
	pf.StringVar(&plansDir, "plans-dir", "", "Plan registry directory (default: app data dir)")
	pf.StringVar(&dbPath, "instance-db", "", "Instance state database path (default: app data dir)")
}

// SetVersionInfo records build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersion(version, commit, buildDate)
}

// GetAppIdentity returns the installed identity, or nil before startup.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	if appIdentity == nil {
		appIdentity = &AppIdentity{
			BinaryName: config.DefaultIdentity.BinaryName,
			EnvPrefix:  config.DefaultIdentity.EnvPrefix,
			ConfigName: config.DefaultIdentity.ConfigName,
		}
	}
	config.SetIdentity(config.Identity{
		BinaryName: appIdentity.BinaryName,
		EnvPrefix:  appIdentity.EnvPrefix,
		ConfigName: appIdentity.ConfigName,
	})

	observability.InitCLILogger(appIdentity.BinaryName, verbose)

	if _, err := config.Load(commandContext(cmd), flagOverrides(cmd)); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	return nil
}

// flagOverrides returns runtime overrides for persistent flags the user set.
func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		overrides["logging"] = map[string]any{"level": logLevel}
	}
	if flags.Changed("plans-dir") {
		overrides["plans"] = map[string]any{"dir": plansDir}
	}
	if flags.Changed("instance-db") {
		overrides["instance_store"] = map[string]any{"path": dbPath}
	}
	return overrides
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadedConfig returns the config installed by initRuntime.
func loadedConfig(ctx context.Context) (*config.Config, error) {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	return config.Load(ctx)
}

// exitCodeError carries a process exit code through cobra's RunE.
type exitCodeError struct {
	code    int
	message string
	err     error
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

func exitError(code int, message string, err error) error {
	if err == nil {
		err = errors.New(message)
	}
	return &exitCodeError{code: code, message: message, err: err}
}

// ExitWithCode logs err and terminates the process with code.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger == nil {
		logger = observability.CLILogger
	}
	logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	_ = logger.Sync()
	os.Exit(code)
}

// exitCode extracts the exit code carried by err, defaulting to 1.
func exitCode(err error) int {
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return 1
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ExitWithCode(observability.CLILogger, exitCode(err), "Command failed", err)
	}
}
