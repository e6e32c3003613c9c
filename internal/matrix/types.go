package matrix

import (
	"fmt"
	"runtime"
	"strings"
)

// OS is the operating system family an entry runs on.
type OS string

const (
	OSWindows OS = "windows"
	OSMacOS   OS = "macos"
	OSLinux   OS = "linux"
)

// ParseOS maps a runner label such as "windows-latest" or "ubuntu-22.04"
// to its operating system family.
func ParseOS(label string) (OS, error) {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case l == "":
		return "", fmt.Errorf("%w: empty runner label", ErrUnknownOS)
	case strings.HasPrefix(l, "windows"):
		return OSWindows, nil
	case strings.HasPrefix(l, "macos"), strings.HasPrefix(l, "mac"):
		return OSMacOS, nil
	case strings.HasPrefix(l, "ubuntu"), strings.HasPrefix(l, "linux"):
		return OSLinux, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOS, label)
	}
}

// HostOS returns the OS family of the machine matrixctl runs on.
func HostOS() OS {
	return osFromGOOS(runtime.GOOS)
}

func osFromGOOS(goos string) OS {
	switch goos {
	case "windows":
		return OSWindows
	case "darwin":
		return OSMacOS
	default:
		return OSLinux
	}
}

// Event is a trigger event a workflow reacts to.
type Event string

const (
	EventPush        Event = "push"
	EventPullRequest Event = "pull_request"
)

// Entry is one (runner, interpreter, profile) combination tested in isolation.
type Entry struct {
	// Name is the display name, e.g. "Windows" or "3.10 unsafe".
	Name string `json:"name" yaml:"name"`
	// RunsOn is the runner label as declared, e.g. "ubuntu-latest".
	RunsOn string `json:"runs_on" yaml:"os"`
	// OS is the family derived from RunsOn.
	OS OS `json:"os" yaml:"-"`
	// Python is a release number ("3.10") or an alternate interpreter tag ("pypy-3.7").
	Python string `json:"python" yaml:"python"`
	// Profile is the tox environment selecting dependency and config variant.
	Profile string `json:"tox" yaml:"tox"`
}

// Key identifies an entry within a matrix.
type Key struct {
	RunsOn  string
	Python  string
	Profile string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.RunsOn, k.Python, k.Profile)
}

// Key returns the (os, python, tox) triple of the entry.
func (e Entry) Key() Key {
	return Key{RunsOn: e.RunsOn, Python: e.Python, Profile: e.Profile}
}

// DisplayName returns Name, or a name derived from the triple when Name is empty.
func (e Entry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("%s, %s, %s", e.RunsOn, e.Python, e.Profile)
}

// Definition is a loaded workflow: its triggers, strategy and entries.
type Definition struct {
	// Name is the workflow name.
	Name string `json:"name"`
	// Job is the job the matrix was taken from.
	Job string `json:"job"`
	// Events lists the trigger events.
	Events []Event `json:"events"`
	// FailFast cancels in-flight siblings on the first failure when set.
	FailFast bool `json:"fail_fast"`
	// MaxParallel bounds concurrently running entries; 0 means unbounded.
	MaxParallel int `json:"max_parallel"`
	// Entries in declaration order.
	Entries []Entry `json:"entries"`
}

// Triggered reports whether the workflow reacts to the given event.
func (d *Definition) Triggered(ev Event) bool {
	for _, e := range d.Events {
		if e == ev {
			return true
		}
	}
	return false
}
