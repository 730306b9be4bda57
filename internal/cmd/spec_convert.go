package cmd

import (
	"encoding/json"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/fleetplan/pkg/deployplan"
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Work with agent-reported job specs",
}

var specConvertCmd = &cobra.Command{
	Use:   "convert [file]",
	Short: "Upgrade a legacy single-template job spec",
	Long: `Read an agent-reported job spec (JSON or YAML) and print it in the
multi-template format. Specs that already carry "templates" are printed
unchanged. Reads stdin when no file is given or the file is "-".

Examples:
  fleetplan spec convert agent-spec.json
  cat agent-spec.yml | fleetplan spec convert`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSpecConvert,
}

func init() {
	rootCmd.AddCommand(specCmd)
	specCmd.AddCommand(specConvertCmd)
}

func runSpecConvert(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to read stdin", err)
		}
	} else {
		data, err = os.ReadFile(args[0])
		if err != nil {
			if os.IsNotExist(err) {
				return exitError(foundry.ExitFileNotFound, "Spec file not found", err)
			}
			return exitError(foundry.ExitFileReadError, "Failed to read spec file", err)
		}
	}

	spec, err := decodeSpec(data)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job spec", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(deployplan.ConvertFromLegacySpec(spec))
}

// decodeSpec accepts JSON or YAML. YAML is a superset of JSON, but JSON is
// tried first so numbers keep their JSON types.
func decodeSpec(data []byte) (map[string]any, error) {
	var spec map[string]any
	if err := json.Unmarshal(data, &spec); err == nil {
		return spec, nil
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	return spec, nil
}
