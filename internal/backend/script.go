package backend

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"matrixctl/internal/recipe"
)

const (
	stepStartMarker = "::matrixctl-step-start::"
	stepEndMarker   = "::matrixctl-step-end::"
)

// renderScript turns recipe steps into a POSIX shell script that brackets
// every step with markers and exits with the first non-zero status.
func renderScript(steps []recipe.Step) string {
	var b strings.Builder
	b.WriteString("set -u\n")
	for _, s := range steps {
		fmt.Fprintf(&b, "echo '%s%s'\n", stepStartMarker, s.Name)
		fmt.Fprintf(&b, "%s 2>&1\n", shellJoin(s.Argv))
		b.WriteString("rc=$?\n")
		fmt.Fprintf(&b, "echo \"%s%s::$rc\"\n", stepEndMarker, s.Name)
		b.WriteString("if [ \"$rc\" -ne 0 ]; then exit \"$rc\"; fi\n")
	}
	return b.String()
}

func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@+,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

type stepMarker struct {
	exitCode int
	ended    bool
	output   strings.Builder
}

// parseMarkers splits container logs into per-step output and exit codes.
func parseMarkers(logs string) map[string]*stepMarker {
	markers := make(map[string]*stepMarker)
	var current *stepMarker

	for _, line := range strings.Split(strings.TrimSuffix(logs, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, stepStartMarker):
			name := strings.TrimPrefix(line, stepStartMarker)
			current = &stepMarker{}
			markers[name] = current
		case strings.HasPrefix(line, stepEndMarker):
			rest := strings.TrimPrefix(line, stepEndMarker)
			idx := strings.LastIndex(rest, "::")
			if idx < 0 {
				continue
			}
			m, ok := markers[rest[:idx]]
			if !ok {
				continue
			}
			if code, err := strconv.Atoi(rest[idx+2:]); err == nil {
				m.exitCode = code
				m.ended = true
			}
			current = nil
		case current != nil:
			current.output.WriteString(line)
			current.output.WriteByte('\n')
		}
	}
	return markers
}

// attributeSteps maps markers back onto the recipe. A step without an end
// marker is charged with the container's exit code; steps after the first
// failure are not reported because they never ran.
func attributeSteps(steps []recipe.Step, markers map[string]*stepMarker, containerExit int, start, end time.Time) []StepOutcome {
	var out []StepOutcome
	for _, s := range steps {
		o := StepOutcome{Step: s, StartTime: start, EndTime: end}
		m, seen := markers[s.Name]
		if seen {
			o.Output = m.output.String()
		}

		if seen && m.ended {
			o.ExitCode = m.exitCode
		} else {
			o.ExitCode = containerExit
		}

		out = append(out, o)
		if o.ExitCode != 0 {
			return out
		}
	}
	return out
}
