package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Manifest records what one render run produced. Written as
// manifest.json next to the figures so a report build can verify its
// inputs.
type Manifest struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Figures    []FigureResult `json:"figures"`
}

// FigureResult summarizes one rendered figure.
type FigureResult struct {
	Name     string        `json:"name"`
	Output   string        `json:"output"`
	Models   []string      `json:"models"`
	Draws    int           `json:"draws"`  // expanded posterior draws consumed
	Points   int           `json:"points"` // marginal curve points after truncation
	Facets   int           `json:"facets"`
	Duration time.Duration `json:"duration_ns"`
}

// Write serializes the manifest into dir.
func (m *Manifest) Write(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: manifest: %w", err)
	}
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("pipeline: manifest: %w", err)
	}
	return nil
}
