package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"matrixctl/internal/matrix"
	"matrixctl/internal/recipe"
)

var (
	listSelector selectorFlags
	listWorkflow string
	listJSON     bool
	listSteps    bool
)

var listBindings = map[string]string{
	"workflow": "workflow",
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the entries of the test matrix",
	Long: `Lists the matrix entries a run would execute, in matrix order. The same
--os, --name and --profile filters as 'matrixctl run' apply.

Example usage:
  matrixctl list                        # The built-in 14-entry matrix
  matrixctl list --os windows,macos     # Non-Linux entries
  matrixctl list --profile '*unsafe'    # Entries for the unsafe profile
  matrixctl list --steps --name PyPy    # Show the recipe an entry runs
  matrixctl list -f tests.yaml --json   # A workflow file, as JSON`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listWorkflow, "workflow", "f", "", "Workflow file to read the matrix from (default: built-in matrix)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print entries as JSON")
	listCmd.Flags().BoolVar(&listSteps, "steps", false, "Show the recipe steps of each entry")
	addSelectorFlags(listCmd, &listSelector)
}

func runList(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd, listBindings)
	if err != nil {
		return err
	}
	initCLILogging(settings, false, cmd.ErrOrStderr())

	def, err := loadDefinition(settings)
	if err != nil {
		return err
	}

	sel := listSelector.selector()
	if err := sel.Validate(); err != nil {
		return err
	}
	entries := def.Select(sel)

	out := cmd.OutOrStdout()
	if listJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	printEntries(out, def, entries)
	if listSteps {
		opts := recipe.Options{Source: settings.Source, Tool: settings.Tool.Name, ToolVersion: settings.Tool.Version}
		for _, e := range entries {
			fmt.Fprintf(out, "\n%s:\n", e.DisplayName())
			for i, step := range recipe.Build(e, opts) {
				fmt.Fprintf(out, "  %d. %-13s %s\n", i+1, step.Name, strings.Join(step.Argv, " "))
			}
		}
	}
	return nil
}

func printEntries(out io.Writer, def *matrix.Definition, entries []matrix.Entry) {
	events := make([]string, len(def.Events))
	for i, ev := range def.Events {
		events[i] = string(ev)
	}
	fmt.Fprintf(out, "%s (on %s, fail-fast %t): %d of %d entries\n",
		def.Name, strings.Join(events, ", "), def.FailFast, len(entries), len(def.Entries))
	if len(entries) == 0 {
		return
	}

	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.DisplayName(), e.RunsOn, e.Python, e.Profile}
	}
	writeTable(out, "  ", []string{"NAME", "OS", "PYTHON", "TOX"}, rows)
}
