package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/fleetplan/pkg/planregistry"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect recorded plans",
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded plans, newest first",
	Long: `List plans recorded by "fleetplan plan".

Examples:
  fleetplan plans list
  fleetplan plans list --deployment cf --json`,
	Args: cobra.NoArgs,
	RunE: runPlansList,
}

var plansShowCmd = &cobra.Command{
	Use:   "show [plan-id]",
	Short: "Show one recorded plan",
	Long: `Print a recorded plan as JSON. With --latest, show the newest plan of a
deployment instead of naming a plan id.

Examples:
  fleetplan plans show 7f0c...
  fleetplan plans show --latest cf
  fleetplan plans show 7f0c... --job router`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlansShow,
}

func init() {
	rootCmd.AddCommand(plansCmd)
	plansCmd.AddCommand(plansListCmd, plansShowCmd)

	plansListCmd.Flags().String("deployment", "", "Only list plans of this deployment")
	plansListCmd.Flags().Bool("json", false, "Output as JSON")
	plansShowCmd.Flags().String("latest", "", "Show the newest plan of this deployment")
	plansShowCmd.Flags().String("job", "", "Only show this job")
}

func planStore(cmd *cobra.Command) (*planregistry.Store, error) {
	cfg, err := loadedConfig(commandContext(cmd))
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	return planregistry.NewStore(cfg.Plans.Dir), nil
}

func runPlansList(cmd *cobra.Command, _ []string) error {
	store, err := planStore(cmd)
	if err != nil {
		return err
	}
	deployment, _ := cmd.Flags().GetString("deployment")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	records, err := store.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list plans", err)
	}
	filtered := records[:0]
	for _, rec := range records {
		if deployment == "" || rec.Deployment == deployment {
			filtered = append(filtered, rec)
		}
	}

	if len(filtered) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No plans found")
		return nil
	}
	if jsonOutput {
		return printJSON(filtered)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "PLAN ID\tDEPLOYMENT\tCREATED\tJOBS")
	for _, rec := range filtered {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
			rec.PlanID, rec.Deployment, rec.CreatedAt.Local().Format(time.DateTime), len(rec.Jobs))
	}
	return nil
}

func runPlansShow(cmd *cobra.Command, args []string) error {
	store, err := planStore(cmd)
	if err != nil {
		return err
	}
	latest, _ := cmd.Flags().GetString("latest")
	jobName, _ := cmd.Flags().GetString("job")

	var rec *planregistry.PlanRecord
	switch {
	case latest != "" && len(args) > 0:
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("pass a plan id or --latest, not both"))
	case latest != "":
		rec, err = store.Latest(latest)
	case len(args) == 1:
		rec, err = store.Get(args[0])
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("a plan id or --latest is required"))
	}
	if err != nil {
		if errors.Is(err, planregistry.ErrPlanNotFound) {
			return exitError(foundry.ExitFileNotFound, "Plan not found", err)
		}
		return exitError(foundry.ExitFileReadError, "Failed to read plan", err)
	}

	if jobName != "" {
		job := rec.Job(jobName)
		if job == nil {
			return exitError(foundry.ExitInvalidArgument, "Job not found", fmt.Errorf("plan %s has no job %q", rec.PlanID, jobName))
		}
		return printJSON(job)
	}
	return printJSON(rec)
}
