package matrix

import (
	"fmt"
	"path"
	"strings"
)

// Selector restricts a run to a subset of entries. Empty fields match everything.
type Selector struct {
	// OS holds OS families ("linux") or runner labels ("ubuntu-latest").
	OS []string
	// Names holds exact entry display names.
	Names []string
	// Profile is a glob over the tox environment, e.g. "py310*".
	Profile string
}

// Validate rejects malformed profile patterns.
func (s Selector) Validate() error {
	if s.Profile == "" {
		return nil
	}
	if _, err := path.Match(s.Profile, ""); err != nil {
		return fmt.Errorf("invalid profile pattern %q: %w", s.Profile, err)
	}
	return nil
}

// Matches reports whether the entry satisfies every non-empty criterion.
func (s Selector) Matches(e Entry) bool {
	if len(s.OS) > 0 && !s.matchesOS(e) {
		return false
	}
	if len(s.Names) > 0 && !contains(s.Names, e.DisplayName()) {
		return false
	}
	if s.Profile != "" {
		ok, err := path.Match(s.Profile, e.Profile)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func (s Selector) matchesOS(e Entry) bool {
	for _, want := range s.OS {
		if strings.EqualFold(want, string(e.OS)) || strings.EqualFold(want, e.RunsOn) {
			return true
		}
	}
	return false
}

// Select returns the entries matching sel, preserving declaration order.
func (d *Definition) Select(sel Selector) []Entry {
	out := make([]Entry, 0, len(d.Entries))
	for _, e := range d.Entries {
		if sel.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
