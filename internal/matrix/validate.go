package matrix

import (
	"errors"
	"fmt"
)

// Validate checks the matrix invariants: at least one entry, known runner
// labels, non-empty interpreter and profile, and unique (os, python, tox)
// triples. All problems are reported together.
func (d *Definition) Validate() error {
	if len(d.Entries) == 0 {
		return ErrEmptyMatrix
	}

	var errs []error
	seen := make(map[Key]int, len(d.Entries))
	for i, e := range d.Entries {
		if _, err := ParseOS(e.RunsOn); err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%s): %w", i, e.DisplayName(), err))
		}
		if e.Python == "" {
			errs = append(errs, fmt.Errorf("entry %d (%s): python version is required", i, e.DisplayName()))
		}
		if e.Profile == "" {
			errs = append(errs, fmt.Errorf("entry %d (%s): tox environment is required", i, e.DisplayName()))
		}
		if j, dup := seen[e.Key()]; dup {
			errs = append(errs, fmt.Errorf("%w: entries %d and %d both declare %s", ErrDuplicateEntry, j, i, e.Key()))
			continue
		}
		seen[e.Key()] = i
	}
	return errors.Join(errs...)
}
