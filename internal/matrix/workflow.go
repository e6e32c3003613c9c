package matrix

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// workflowDoc is the subset of a CI workflow document matrixctl understands.
type workflowDoc struct {
	Name string    `yaml:"name"`
	On   triggers  `yaml:"on"`
	Jobs yaml.Node `yaml:"jobs"`
}

type jobDoc struct {
	RunsOn   string       `yaml:"runs-on"`
	Strategy *strategyDoc `yaml:"strategy"`
}

type strategyDoc struct {
	FailFast    *bool      `yaml:"fail-fast"`
	MaxParallel int        `yaml:"max-parallel"`
	Matrix      *matrixDoc `yaml:"matrix"`
}

type matrixDoc struct {
	OS      stringList `yaml:"os"`
	Python  stringList `yaml:"python"`
	Tox     stringList `yaml:"tox"`
	Include []entryDoc `yaml:"include"`
	Exclude []entryDoc `yaml:"exclude"`
}

// triggers accepts the three shapes of "on": a scalar, a list or a mapping.
type triggers []Event

func (t *triggers) UnmarshalYAML(n *yaml.Node) error {
	var events []Event
	switch n.Kind {
	case yaml.ScalarNode:
		events = append(events, Event(n.Value))
	case yaml.SequenceNode:
		for _, c := range n.Content {
			if c.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: trigger list must contain event names", c.Line)
			}
			events = append(events, Event(c.Value))
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			events = append(events, Event(n.Content[i].Value))
		}
	default:
		return fmt.Errorf("line %d: unsupported trigger declaration", n.Line)
	}
	*t = events
	return nil
}

// stringList accepts either a scalar or a sequence of scalars and keeps
// values exactly as written, so "3.10" never collapses to "3.1".
type stringList []string

func (s *stringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*s = stringList{n.Value}
	case yaml.SequenceNode:
		out := make(stringList, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: matrix axis values must be scalars", c.Line)
			}
			out = append(out, c.Value)
		}
		*s = out
	default:
		return fmt.Errorf("line %d: matrix axis must be a scalar or a list", n.Line)
	}
	return nil
}

// entryDoc is one include/exclude item. Fields are read from the raw node
// text for the same reason as stringList.
type entryDoc struct {
	Name   string
	OS     string
	Python string
	Tox    string
}

func (e *entryDoc) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix include/exclude items must be mappings", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			continue
		}
		switch key.Value {
		case "name":
			e.Name = val.Value
		case "os":
			e.OS = val.Value
		case "python":
			e.Python = val.Value
		case "tox":
			e.Tox = val.Value
		}
	}
	return nil
}

// matches reports whether every field set on the pattern equals the candidate's.
func (e entryDoc) matches(c entryDoc) bool {
	return (e.OS == "" || e.OS == c.OS) &&
		(e.Python == "" || e.Python == c.Python) &&
		(e.Tox == "" || e.Tox == c.Tox)
}

// Load reads and validates a workflow document from disk.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a workflow document.
func Parse(data []byte) (*Definition, error) {
	var doc workflowDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	if doc.Jobs.Kind != yaml.MappingNode {
		return nil, ErrNoMatrixJob
	}

	for i := 0; i+1 < len(doc.Jobs.Content); i += 2 {
		jobName := doc.Jobs.Content[i].Value
		var job jobDoc
		if err := doc.Jobs.Content[i+1].Decode(&job); err != nil {
			return nil, fmt.Errorf("job %q: %w", jobName, err)
		}
		if job.Strategy == nil || job.Strategy.Matrix == nil {
			continue
		}

		def := &Definition{
			Name:        doc.Name,
			Job:         jobName,
			Events:      []Event(doc.On),
			MaxParallel: job.Strategy.MaxParallel,
			Entries:     expand(job.Strategy.Matrix, job.RunsOn),
		}
		if job.Strategy.FailFast != nil {
			def.FailFast = *job.Strategy.FailFast
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		return def, nil
	}

	return nil, ErrNoMatrixJob
}

// expand turns axes, exclude and include into a flat entry list.
func expand(m *matrixDoc, jobRunsOn string) []Entry {
	var docs []entryDoc

	if len(m.OS)+len(m.Python)+len(m.Tox) > 0 {
		for _, osLabel := range orBlank(m.OS) {
			for _, py := range orBlank(m.Python) {
				for _, tox := range orBlank(m.Tox) {
					candidate := entryDoc{OS: osLabel, Python: py, Tox: tox}
					if excluded(candidate, m.Exclude) {
						continue
					}
					docs = append(docs, candidate)
				}
			}
		}
	}
	docs = append(docs, m.Include...)

	// A literal runs-on is the fallback label; a templated one is resolved per entry.
	defaultOS := ""
	if !strings.Contains(jobRunsOn, "${{") {
		defaultOS = strings.TrimSpace(jobRunsOn)
	}

	entries := make([]Entry, 0, len(docs))
	for _, d := range docs {
		e := Entry{Name: d.Name, RunsOn: d.OS, Python: d.Python, Profile: d.Tox}
		if e.RunsOn == "" {
			e.RunsOn = defaultOS
		}
		if osFamily, err := ParseOS(e.RunsOn); err == nil {
			e.OS = osFamily
		}
		e.Name = e.DisplayName()
		entries = append(entries, e)
	}
	return entries
}

func excluded(c entryDoc, patterns []entryDoc) bool {
	for _, p := range patterns {
		if p.matches(c) {
			return true
		}
	}
	return false
}

func orBlank(values []string) []string {
	if len(values) == 0 {
		return []string{""}
	}
	return values
}
