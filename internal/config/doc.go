// Package config loads matrixctl settings.
//
// Settings are layered, later sources overriding earlier ones:
//
//  1. Built-in defaults
//  2. User configuration (~/.config/matrixctl/config.yaml)
//  3. Project configuration (./.matrixctl/config.yaml)
//  4. MATRIXCTL_* environment variables (MATRIXCTL_RUNNER_MAX_PARALLEL, ...)
//  5. Command-line flags bound by the caller
//
// A complete configuration file looks like this:
//
//	workflow: .github/workflows/tests.yaml   # empty selects the built-in matrix
//	source: .
//	backend: local                           # or "kubernetes"
//	log_level: info
//	runner:
//	  max_parallel: 4
//	  entry_timeout: 20m
//	tool:
//	  name: tox
//	  version: ""
//	kubernetes:
//	  kubeconfig: ~/.kube/config
//	  context: kind-matrix
//	  namespace: ci
//	  checkout_image: alpine/git:latest
//	  poll_interval: 2s
//	history:
//	  enabled: true
//	  path: ~/.local/share/matrixctl/history.db
//	telemetry:
//	  otlp_endpoint: http://localhost:4318
//	report:
//	  dir: ./reports
package config
