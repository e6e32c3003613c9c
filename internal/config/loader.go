package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/matrixctl"
	projectConfigDir = ".matrixctl"
	configFileName   = "config.yaml"
	envPrefix        = "MATRIXCTL"
)

// Load merges defaults, the user and project config files, MATRIXCTL_*
// environment variables and the given flags. flags maps setting keys
// such as "runner.max_parallel" to flags; a flag only overrides the lower
// layers when it was set on the command line.
func Load(flags map[string]*pflag.Flag) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else if err := mergeFile(v, userConfigPath); err != nil {
		return nil, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else if err := mergeFile(v, projectConfigPath); err != nil {
		return nil, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("binding flag --%s to %s: %w", flag.Name, key, err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	settings.Kubernetes.Kubeconfig = expandHome(settings.Kubernetes.Kubeconfig)
	settings.History.Path = expandHome(settings.History.Path)

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

// Default returns the built-in settings.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	settings := &Settings{}
	// Defaults always decode.
	_ = v.Unmarshal(settings)
	return settings
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workflow", "")
	v.SetDefault("source", ".")
	v.SetDefault("backend", BackendLocal)
	v.SetDefault("log_level", "info")

	v.SetDefault("runner.max_parallel", 0)
	v.SetDefault("runner.entry_timeout", "0s")

	v.SetDefault("tool.name", "tox")
	v.SetDefault("tool.version", "")

	v.SetDefault("kubernetes.kubeconfig", "")
	v.SetDefault("kubernetes.context", "")
	v.SetDefault("kubernetes.namespace", "default")
	v.SetDefault("kubernetes.checkout_image", "alpine/git:latest")
	v.SetDefault("kubernetes.poll_interval", "2s")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")

	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("report.dir", "")
}

// mergeFile layers the YAML file at path over v. A missing file is skipped.
func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	fileViper := viper.New()
	fileViper.SetConfigFile(path)
	fileViper.SetConfigType("yaml")
	if err := fileViper.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(fileViper.AllSettings())
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := osUserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}
