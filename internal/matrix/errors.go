package matrix

import "errors"

var (
	// ErrEmptyMatrix is returned when a definition has no entries.
	ErrEmptyMatrix = errors.New("matrix has no entries")
	// ErrDuplicateEntry is returned when two entries share an (os, python, tox) triple.
	ErrDuplicateEntry = errors.New("duplicate matrix entry")
	// ErrUnknownOS is returned for runner labels that map to no OS family.
	ErrUnknownOS = errors.New("unknown runner label")
	// ErrNoMatrixJob is returned when a workflow has no job with strategy.matrix.
	ErrNoMatrixJob = errors.New("workflow declares no matrix job")
)
