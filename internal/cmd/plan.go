package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/fleetplan/internal/observability"
	"github.com/3leaps/fleetplan/pkg/instancestore"
	"github.com/3leaps/fleetplan/pkg/manifest"
	"github.com/3leaps/fleetplan/pkg/planner"
	"github.com/3leaps/fleetplan/pkg/planregistry"
)

var planCmd = &cobra.Command{
	Use:   "plan <manifest>",
	Short: "Bind a deployment manifest into a plan",
	Long: `Load a deployment manifest, bind every job and record the plan.

The manifest may be a local YAML/JSON file or an s3://bucket/key URI.
Instance state (VM ids and job states) is read from and written back to the
instance database so repeated runs keep VM assignments stable.

Every broken job is reported in one run. Nothing is recorded unless every
job binds.

Examples:
  fleetplan plan deploy.yml
  fleetplan plan deploy.yml --dry-run --json
  fleetplan plan s3://manifests/cf.yml --region us-east-1 --endpoint http://localhost:9000`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().Bool("dry-run", false, "Bind without recording the plan or persisting instance state")
	planCmd.Flags().Bool("json", false, "Print the plan record as JSON")
	planCmd.Flags().String("region", "", "AWS region for s3:// manifests")
	planCmd.Flags().String("endpoint", "", "Custom S3 endpoint for s3:// manifests")
	planCmd.Flags().String("profile", "", "AWS profile for s3:// manifests")
	planCmd.Flags().Bool("force-path-style", false, "Use path-style S3 addressing")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	cfg, err := loadedConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	opts := manifest.SourceOptions{
		Region:         cfg.Source.Region,
		Endpoint:       cfg.Source.Endpoint,
		Profile:        cfg.Source.Profile,
		ForcePathStyle: cfg.Source.ForcePathStyle,
	}
	if v, _ := cmd.Flags().GetString("region"); v != "" {
		opts.Region = v
	}
	if v, _ := cmd.Flags().GetString("endpoint"); v != "" {
		opts.Endpoint = v
	}
	if v, _ := cmd.Flags().GetString("profile"); v != "" {
		opts.Profile = v
	}
	if cmd.Flags().Changed("force-path-style") {
		opts.ForcePathStyle, _ = cmd.Flags().GetBool("force-path-style")
	}

	uri := args[0]
	m, err := manifest.LoadURI(ctx, uri, opts)
	if err != nil {
		return manifestExitError(err)
	}

	logger := observability.CLILogger
	buildOpts := planner.Options{Logger: logger}
	if !dryRun && cfg.InstanceStore.Path != "" {
		db, err := instancestore.Open(ctx, instancestore.Config{Path: cfg.InstanceStore.Path})
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to open instance database", err)
		}
		defer func() { _ = db.Close() }()
		buildOpts.DB = db
	}

	plan, err := planner.Build(ctx, m, buildOpts)
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "plan cancelled", ctx.Err())
		}
		return exitError(foundry.ExitInvalidArgument, "Deployment failed to bind", err)
	}

	store := planregistry.NewStore(cfg.Plans.Dir)
	rec, err := plan.Record(planregistry.NewPlanID(), uri, time.Now())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to render plan", err)
	}
	if !dryRun {
		if err := store.Write(rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to record plan", err)
		}
		logger.Info("Recorded plan",
			zap.String("plan_id", rec.PlanID),
			zap.String("deployment", rec.Deployment),
			zap.String("path", store.PlanPath(rec.PlanID)))
	}

	if jsonOutput {
		return printJSON(rec)
	}
	return printPlanSummary(rec)
}

func manifestExitError(err error) error {
	switch {
	case errors.Is(err, manifest.ErrManifestNotFound):
		return exitError(foundry.ExitFileNotFound, "Manifest not found", err)
	case errors.Is(err, manifest.ErrAccessDenied):
		return exitError(foundry.ExitExternalServiceUnavailable, "Manifest access denied", err)
	case errors.Is(err, manifest.ErrValidationFailed):
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	default:
		return exitError(foundry.ExitFileReadError, "Failed to read manifest", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPlanSummary(rec *planregistry.PlanRecord) error {
	_, _ = fmt.Fprintf(os.Stdout, "Plan %s for deployment %s\n\n", rec.PlanID, rec.Deployment)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB\tSTATE\tTEMPLATES\tPACKAGES\tINSTANCES")
	for _, job := range rec.Jobs {
		templates, _ := job.Spec["templates"].([]any)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
			job.Name, job.State, len(templates), len(job.PackageSpec), len(job.Instances))
	}
	return nil
}
