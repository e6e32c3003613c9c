// Package matrix defines the declarative test matrix executed by matrixctl.
//
// A matrix is a flat list of independent entries. Each entry names an
// operating system (via a runner label such as "ubuntu-latest"), an
// interpreter version and an execution profile (the tox environment passed
// to "tox -e"). Entries never reference one another and are immutable once
// loaded.
//
// # Sources
//
// Matrices come from two places:
//   - Default returns the built-in 14 entry matrix covering Windows, macOS,
//     several CPython releases, PyPy and the "unsafe" and "autoescape"
//     profile variants.
//   - Load and Parse read a GitHub-Actions-style workflow document. The first
//     job declaring strategy.matrix is used; os/python/tox axes expand to a
//     cross-product, exclude removes combinations and include appends
//     entries.
//
// # Invariants
//
// Validate enforces that every (os, python, tox) triple is unique, that
// every runner label maps to a known operating system and that the matrix
// is not empty.
package matrix
