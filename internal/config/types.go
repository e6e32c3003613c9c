package config

import (
	"fmt"
	"time"
)

// Backend kinds.
const (
	BackendLocal      = "local"
	BackendKubernetes = "kubernetes"
)

// Settings is the merged matrixctl configuration.
type Settings struct {
	// Workflow is the path of a workflow document; empty selects the built-in matrix.
	Workflow string `mapstructure:"workflow"`
	// Source is the repository each entry checks out.
	Source string `mapstructure:"source"`
	// Backend selects where entries execute: "local" or "kubernetes".
	Backend  string `mapstructure:"backend"`
	LogLevel string `mapstructure:"log_level"`

	Runner     RunnerSettings     `mapstructure:"runner"`
	Tool       ToolSettings       `mapstructure:"tool"`
	Kubernetes KubernetesSettings `mapstructure:"kubernetes"`
	History    HistorySettings    `mapstructure:"history"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	Report     ReportSettings     `mapstructure:"report"`
}

// RunnerSettings bound the matrix fan-out.
type RunnerSettings struct {
	// MaxParallel overrides the workflow's max-parallel when positive.
	MaxParallel int `mapstructure:"max_parallel"`
	// EntryTimeout fails an entry that runs longer; zero disables it.
	EntryTimeout time.Duration `mapstructure:"entry_timeout"`
}

// ToolSettings select the auxiliary test tool.
type ToolSettings struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// KubernetesSettings configure the pod backend.
type KubernetesSettings struct {
	Kubeconfig    string        `mapstructure:"kubeconfig"`
	Context       string        `mapstructure:"context"`
	Namespace     string        `mapstructure:"namespace"`
	CheckoutImage string        `mapstructure:"checkout_image"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// HistorySettings configure the run history database.
type HistorySettings struct {
	Enabled bool `mapstructure:"enabled"`
	// Path of the database; empty selects the XDG data directory.
	Path string `mapstructure:"path"`
}

// TelemetrySettings configure trace export.
type TelemetrySettings struct {
	// OTLPEndpoint is the OTLP/HTTP collector; empty disables tracing.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// ReportSettings configure saved JSON reports.
type ReportSettings struct {
	// Dir receives one report file per run; empty disables saving.
	Dir string `mapstructure:"dir"`
}

// Validate rejects settings no command can act on.
func (s *Settings) Validate() error {
	switch s.Backend {
	case BackendLocal, BackendKubernetes:
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", s.Backend, BackendLocal, BackendKubernetes)
	}
	if s.Runner.MaxParallel < 0 {
		return fmt.Errorf("runner.max_parallel must not be negative, got %d", s.Runner.MaxParallel)
	}
	if s.Runner.EntryTimeout < 0 {
		return fmt.Errorf("runner.entry_timeout must not be negative, got %s", s.Runner.EntryTimeout)
	}
	if s.Tool.Name == "" {
		return fmt.Errorf("tool.name must not be empty")
	}
	if s.Backend == BackendKubernetes && s.Kubernetes.PollInterval <= 0 {
		return fmt.Errorf("kubernetes.poll_interval must be positive, got %s", s.Kubernetes.PollInterval)
	}
	return nil
}
