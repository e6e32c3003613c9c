package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"matrixctl/internal/backend"
	"matrixctl/internal/config"
	"matrixctl/internal/history"
	"matrixctl/internal/matrix"
	"matrixctl/internal/recipe"
	"matrixctl/internal/telemetry"
	"matrixctl/pkg/logging"
)

const (
	subsystem         = "CLI"
	telemetryShutdown = 5 * time.Second
)

// loadSettings merges config files, environment and the flags of cmd that
// are named in bindings (setting key -> flag name).
func loadSettings(cmd *cobra.Command, bindings map[string]string) (*config.Settings, error) {
	flags := make(map[string]*pflag.Flag, len(bindings)+1)
	for key, name := range bindings {
		flags[key] = cmd.Flags().Lookup(name)
	}
	flags["log_level"] = cmd.Flags().Lookup("log-level")
	return config.Load(flags)
}

// initCLILogging routes log records to w, honouring --debug over the configured level.
func initCLILogging(settings *config.Settings, debug bool, w io.Writer) {
	logging.InitForCLI(resolveLevel(settings, debug), w)
}

func resolveLevel(settings *config.Settings, debug bool) logging.LogLevel {
	if debug {
		return logging.LevelDebug
	}
	level, err := logging.ParseLevel(settings.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using info\n", err)
	}
	return level
}

// loadDefinition reads the configured workflow or falls back to the built-in matrix.
func loadDefinition(settings *config.Settings) (*matrix.Definition, error) {
	if settings.Workflow == "" {
		return matrix.Default(), nil
	}
	def, err := matrix.Load(settings.Workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return def, nil
}

// newBackend builds the execution backend named in settings.
func newBackend(settings *config.Settings, workingTree bool) (backend.Backend, error) {
	switch settings.Backend {
	case config.BackendKubernetes:
		return backend.NewKubernetesFromKubeconfig(
			settings.Kubernetes.Kubeconfig,
			settings.Kubernetes.Context,
			backend.WithNamespace(settings.Kubernetes.Namespace),
			backend.WithCheckoutImage(settings.Kubernetes.CheckoutImage),
			backend.WithPollInterval(settings.Kubernetes.PollInterval),
		)
	default:
		return backend.NewLocal(backend.WithWorkingTree(workingTree)), nil
	}
}

// recipeOptions resolves the checkout source for the configured backend.
// Local workspaces live in a temp dir, so relative paths are made absolute;
// pods can only clone remote sources.
func recipeOptions(settings *config.Settings) (recipe.Options, error) {
	source := settings.Source
	if source == "" {
		source = "."
	}

	if isRemoteSource(source) {
		return recipe.Options{Source: source, Tool: settings.Tool.Name, ToolVersion: settings.Tool.Version}, nil
	}
	if settings.Backend == config.BackendKubernetes {
		return recipe.Options{}, fmt.Errorf("the kubernetes backend needs a remote source URL, got %q", source)
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return recipe.Options{}, fmt.Errorf("failed to resolve source %s: %w", source, err)
	}
	return recipe.Options{Source: abs, Tool: settings.Tool.Name, ToolVersion: settings.Tool.Version}, nil
}

func isRemoteSource(source string) bool {
	return strings.Contains(source, "://") || strings.HasPrefix(source, "git@")
}

// openHistory opens the run history store, or returns nil when disabled.
func openHistory(settings *config.Settings) (*history.Store, error) {
	if !settings.History.Enabled {
		return nil, nil
	}
	path := settings.History.Path
	if path == "" {
		path = history.DefaultPath()
	}
	store, err := history.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return store, nil
}

// setupTelemetry installs trace export and returns a function flushing it.
func setupTelemetry(ctx context.Context, settings *config.Settings) func() {
	shutdown, err := telemetry.Setup(ctx, settings.Telemetry.OTLPEndpoint, "matrixctl", rootCmd.Version)
	if err != nil {
		logging.Warn(subsystem, "Tracing disabled: %v", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logging.Warn(subsystem, "Failed to flush traces: %v", err)
		}
	}
}

// completeOSFlag offers OS families and the runner labels of the built-in matrix.
func completeOSFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	values := []string{string(matrix.OSLinux), string(matrix.OSMacOS), string(matrix.OSWindows)}
	seen := map[string]bool{}
	for _, e := range matrix.Default().Entries {
		if !seen[e.RunsOn] {
			seen[e.RunsOn] = true
			values = append(values, e.RunsOn)
		}
	}
	return values, cobra.ShellCompDirectiveNoFileComp
}

// completeNameFlag offers the entry names of the built-in matrix.
func completeNameFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var names []string
	for _, e := range matrix.Default().Entries {
		names = append(names, e.DisplayName())
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

// completeProfileFlag offers the tox environments of the built-in matrix.
func completeProfileFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var profiles []string
	for _, e := range matrix.Default().Entries {
		profiles = append(profiles, e.Profile)
	}
	return profiles, cobra.ShellCompDirectiveNoFileComp
}

func completeBackendFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{config.BackendLocal, config.BackendKubernetes}, cobra.ShellCompDirectiveNoFileComp
}

func completeEventFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{string(matrix.EventPush), string(matrix.EventPullRequest)}, cobra.ShellCompDirectiveNoFileComp
}

// addSelectorFlags registers the entry filters shared by run, list and watch.
func addSelectorFlags(cmd *cobra.Command, sel *selectorFlags) {
	cmd.Flags().StringSliceVar(&sel.os, "os", nil, "Only entries on these OS families or runner labels (linux, windows-latest, ...)")
	cmd.Flags().StringSliceVar(&sel.names, "name", nil, "Only entries with these display names")
	cmd.Flags().StringVar(&sel.profile, "profile", "", "Only entries whose tox environment matches this glob (e.g. 'py310*')")

	_ = cmd.RegisterFlagCompletionFunc("os", completeOSFlag)
	_ = cmd.RegisterFlagCompletionFunc("name", completeNameFlag)
	_ = cmd.RegisterFlagCompletionFunc("profile", completeProfileFlag)
}

type selectorFlags struct {
	os      []string
	names   []string
	profile string
}

func (s selectorFlags) selector() matrix.Selector {
	return matrix.Selector{OS: s.os, Names: s.names, Profile: s.profile}
}
