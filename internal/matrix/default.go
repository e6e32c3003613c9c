package matrix

import (
	_ "embed"
	"fmt"
)

//go:embed default_workflow.yaml
var defaultWorkflow []byte

// Default returns the built-in matrix: Windows and macOS on 3.10, CPython
// 3.7 through 3.11 and PyPy on Linux, plus the "unsafe" and "autoescape"
// profile variants. A fresh copy is returned on every call.
func Default() *Definition {
	def, err := Parse(defaultWorkflow)
	if err != nil {
		panic(fmt.Sprintf("built-in workflow is invalid: %v", err))
	}
	return def
}

// DefaultWorkflow returns the raw built-in workflow document.
func DefaultWorkflow() []byte {
	out := make([]byte, len(defaultWorkflow))
	copy(out, defaultWorkflow)
	return out
}
