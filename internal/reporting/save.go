package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"matrixctl/internal/runner"
)

// SaveReport writes result as JSON into dir, creating it when missing, and
// returns the file path.
func SaveReport(dir string, result runner.RunResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	id := result.ID
	if len(id) > 8 {
		id = id[:8]
	}
	stamp := result.StartTime.Format("20060102-150405")
	path := filepath.Join(dir, fmt.Sprintf("matrixctl-report-%s-%s.json", stamp, id))

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}

// LoadReport reads a report written by SaveReport.
func LoadReport(path string) (*runner.RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var result runner.RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return &result, nil
}
