package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/3leaps/fleetplan/internal/errors"
	"github.com/3leaps/fleetplan/internal/config"
	"github.com/3leaps/fleetplan/internal/observability"
)

var doctorProvider string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Check the local environment: toolchain, data directories, the plan
registry and the instance database.

Examples:
  fleetplan doctor                 # Local checks
  fleetplan doctor --provider s3   # Also check AWS credentials for s3:// manifests`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	log := observability.CLILogger

	cfg, err := loadedConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}

	checks := doctorChecks(cfg)
	if doctorProvider == "s3" {
		checks = append(checks, doctorCheck{name: "AWS credentials", run: checkAWSCredentials})
	} else if doctorProvider != "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --provider value", fmt.Errorf("unsupported provider %q", doctorProvider))
	}

	log.Info("=== fleetplan doctor ===")
	failed := 0
	for i, c := range checks {
		detail, err := c.run(ctx)
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		if err != nil {
			failed++
			log.Error(prefix+" ❌", zap.Error(err))
			if c.name == "AWS credentials" {
				printAWSCredentialsHelp()
			}
			continue
		}
		log.Info(prefix+" ✅ "+detail)
	}

	if failed > 0 {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(foundry.ExitExternalServiceUnavailable, "doctor found problems", fmt.Errorf("failed_checks=%d", failed))
	}
	log.Info("✅ All checks passed!")
	return nil
}

// doctorChecks returns the local checks for cfg.
func doctorChecks(cfg *config.Config) []doctorCheck {
	return []doctorCheck{
		{name: "Go version", run: func(context.Context) (string, error) {
			return runtime.Version(), nil
		}},
		{name: "Crucible access", run: func(context.Context) (string, error) {
			v := crucible.GetVersion()
			if v.Crucible == "" {
				return "", errwrap.NewExternalServiceError("Crucible version unavailable")
			}
			return "v" + v.Crucible, nil
		}},
		{name: "Plan registry", run: func(ctx context.Context) (string, error) {
			if err := os.MkdirAll(cfg.Plans.Dir, 0o755); err != nil {
				return "", err
			}
			return cfg.Plans.Dir, planRegistryHealthChecker{dir: cfg.Plans.Dir}.CheckHealth(ctx)
		}},
		{name: "Instance database", run: func(ctx context.Context) (string, error) {
			if err := (instanceDBHealthChecker{path: cfg.InstanceStore.Path}).CheckHealth(ctx); err != nil {
				return "", errwrap.WrapInternal(ctx, err, "open instance database")
			}
			return cfg.InstanceStore.Path, nil
		}},
		{name: "Environment", run: func(context.Context) (string, error) {
			return runtime.GOOS + "/" + runtime.GOARCH, nil
		}},
	}
}

func checkAWSCredentials(ctx context.Context) (string, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve credentials: %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s (source: %s)", maskAccessKey(creds.AccessKeyID), source), nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("To configure AWS credentials for s3:// manifests:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY, or")
	log.Info("  2. Run 'aws configure' to set up a profile, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("For S3-compatible storage (MinIO, etc.) also pass --endpoint to fleetplan plan.")
}
