// Package config loads and validates the margins.yaml configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"margins/internal/marginal"
	"margins/internal/render"
)

// Config holds all pipeline configuration.
type Config struct {
	// DataDir contains models/<id>.db files from the fitting step.
	DataDir string `yaml:"data_dir"`
	// OutDir receives rendered figures and the run manifest.
	OutDir string `yaml:"out_dir"`

	Grid      GridConfig     `yaml:"grid"`
	Intervals []float64      `yaml:"intervals"`
	Figures   []FigureConfig `yaml:"figures"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// GridConfig controls prediction grid construction.
type GridConfig struct {
	// DistanceStep is the sweep step in meters.
	DistanceStep float64 `yaml:"distance_step"`

	// Factor levels enumerated in every grid.
	Crops    []string `yaml:"crops"`
	Habitats []string `yaml:"habitats"`
}

// FigureConfig describes one rendered figure.
type FigureConfig struct {
	Name   string `yaml:"name"`
	Title  string `yaml:"title"`
	YLabel string `yaml:"y_label"`

	// Models pooled into this figure's facets.
	Models []string `yaml:"models"`

	// GroupBy keeps one covariate as facet grouping: none, crop, habitat.
	GroupBy string `yaml:"group_by"`
	// Policy is the marginalization strategy: average, raw, reference.
	Policy string `yaml:"policy"`
	// Reference levels, used when policy is "reference".
	ReferenceCrop    string `yaml:"reference_crop"`
	ReferenceHabitat string `yaml:"reference_habitat"`

	// Cosmetics.
	LineColor string  `yaml:"line_color"`
	FillColor string  `yaml:"fill_color"`
	Cols      int     `yaml:"cols"`
	WidthIn   float64 `yaml:"width_in"`
	HeightIn  float64 `yaml:"height_in"`
	DPI       int     `yaml:"dpi"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the configuration for the standard four-figure
// report over the ten fitted models: richness as a grand mean and by
// habitat, activity density by crop, and the body-size classes.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   "data",
		OutDir:    "figures",
		Intervals: []float64{0.5, 0.8, 0.95},
		Grid: GridConfig{
			DistanceStep: 1,
			Crops:        []string{"Cereal", "Legume", "Maize", "Oilseed", "Vegetable"},
			Habitats:     []string{"control", "herbaceous", "woody"},
		},
		Figures: []FigureConfig{
			{
				Name:   "richness",
				Title:  "Species richness by distance from edge",
				YLabel: "Species richness",
				Models: []string{"richness_all", "richness_predatory", "richness_granivorous"},
			},
			{
				Name:    "richness_by_habitat",
				Title:   "Species richness by habitat type",
				YLabel:  "Species richness",
				Models:  []string{"richness_all", "richness_predatory", "richness_granivorous"},
				GroupBy: "habitat",
			},
			{
				Name:    "density",
				Title:   "Activity density by distance from edge",
				YLabel:  "Activity density per trap-day",
				Models:  []string{"density_all", "density_predatory", "density_granivorous"},
				GroupBy: "crop",
			},
			{
				Name:   "size",
				Title:  "Activity density by body-size class",
				YLabel: "Activity density per trap-day",
				Models: []string{"size_small", "size_medium", "size_large", "size_verylarge"},
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the yaml file at path over the defaults, applies environment
// overrides, and validates. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment relocate the data and output
// directories, which is how a fixed config is pointed at fixture data.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MARGINS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MARGINS_OUT_DIR"); v != "" {
		c.OutDir = v
	}
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.OutDir == "" {
		return fmt.Errorf("config: out_dir is required")
	}
	if c.Grid.DistanceStep <= 0 {
		return fmt.Errorf("config: grid.distance_step must be > 0, got %g", c.Grid.DistanceStep)
	}
	if len(c.Grid.Crops) == 0 || len(c.Grid.Habitats) == 0 {
		return fmt.Errorf("config: grid needs at least one crop and one habitat level")
	}
	if err := render.ValidateLevels(c.Intervals); err != nil {
		return fmt.Errorf("config: intervals: %w", err)
	}
	if len(c.Figures) == 0 {
		return fmt.Errorf("config: no figures configured")
	}

	seen := make(map[string]bool)
	for i, f := range c.Figures {
		if f.Name == "" {
			return fmt.Errorf("config: figure %d has no name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("config: duplicate figure name %q", f.Name)
		}
		seen[f.Name] = true
		if len(f.Models) == 0 {
			return fmt.Errorf("config: figure %q lists no models", f.Name)
		}
		if _, err := marginal.ParseGroupKey(f.GroupBy); err != nil {
			return fmt.Errorf("config: figure %q: %w", f.Name, err)
		}
		pol, err := marginal.ParsePolicy(f.Policy)
		if err != nil {
			return fmt.Errorf("config: figure %q: %w", f.Name, err)
		}
		if pol == marginal.PolicyReference && f.ReferenceCrop == "" && f.ReferenceHabitat == "" {
			return fmt.Errorf("config: figure %q uses the reference policy without reference levels", f.Name)
		}
	}
	return nil
}

// Figure returns the figure config by name.
func (c *Config) Figure(name string) (FigureConfig, error) {
	for _, f := range c.Figures {
		if f.Name == name {
			return f, nil
		}
	}
	return FigureConfig{}, fmt.Errorf("config: no figure named %q", name)
}
