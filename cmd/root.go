package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// logLevel is the persistent --log-level flag shared by all commands.
var logLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "matrixctl",
	Short: "Run a project's test suite across an environment matrix",
	Long: `matrixctl runs a test suite once per matrix entry (operating system x
Python version x tox environment). Every entry gets the same recipe: check
out the source, select the interpreter, install tox and run "tox -e <env>".

Entries are independent and fail-fast is off by default: one failing entry
never cancels the others. The run fails when any entry fails.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. a failed matrix or an unreadable workflow)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "matrixctl version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (default from config)")
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", completeLogLevel)

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

func completeLogLevel(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
}
