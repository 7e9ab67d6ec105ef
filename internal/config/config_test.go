package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Figures, 4)

	// The four default figures cover all ten fitted models.
	models := make(map[string]bool)
	for _, f := range cfg.Figures {
		for _, m := range f.Models {
			models[m] = true
		}
	}
	assert.Len(t, models, 10)
}

func TestLoad(t *testing.T) {
	t.Run("yaml overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "margins.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /srv/arthropods
intervals: [0.5, 0.9]
grid:
  distance_step: 2.5
  crops: [Cereal]
  habitats: [control, woody]
figures:
  - name: density_crop
    title: Activity density
    models: [density_all]
    group_by: crop
    policy: average
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/srv/arthropods", cfg.DataDir)
		assert.Equal(t, []float64{0.5, 0.9}, cfg.Intervals)
		assert.Equal(t, 2.5, cfg.Grid.DistanceStep)
		require.Len(t, cfg.Figures, 1)
		assert.Equal(t, "density_crop", cfg.Figures[0].Name)
		// Untouched defaults survive.
		assert.Equal(t, "figures", cfg.OutDir)
	})

	t.Run("missing file is fatal", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("empty path loads defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "data", cfg.DataDir)
	})

	t.Run("env overrides data and out dirs", func(t *testing.T) {
		t.Setenv("MARGINS_DATA_DIR", "/fixtures")
		t.Setenv("MARGINS_OUT_DIR", "/tmp/out")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "/fixtures", cfg.DataDir)
		assert.Equal(t, "/tmp/out", cfg.OutDir)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		return cfg
	}

	t.Run("bad interval level", func(t *testing.T) {
		cfg := valid()
		cfg.Intervals = []float64{0.5, 1.5}
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-ascending intervals", func(t *testing.T) {
		cfg := valid()
		cfg.Intervals = []float64{0.95, 0.5}
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero distance step", func(t *testing.T) {
		cfg := valid()
		cfg.Grid.DistanceStep = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("figure without models", func(t *testing.T) {
		cfg := valid()
		cfg.Figures[0].Models = nil
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), cfg.Figures[0].Name)
	})

	t.Run("unknown group key", func(t *testing.T) {
		cfg := valid()
		cfg.Figures[0].GroupBy = "farm"
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown policy", func(t *testing.T) {
		cfg := valid()
		cfg.Figures[0].Policy = "weighted"
		assert.Error(t, cfg.Validate())
	})

	t.Run("reference policy needs levels", func(t *testing.T) {
		cfg := valid()
		cfg.Figures[0].Policy = "reference"
		assert.Error(t, cfg.Validate())

		cfg.Figures[0].ReferenceCrop = "Cereal"
		cfg.Figures[0].ReferenceHabitat = "control"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("duplicate figure names", func(t *testing.T) {
		cfg := valid()
		cfg.Figures[1].Name = cfg.Figures[0].Name
		assert.Error(t, cfg.Validate())
	})
}

func TestFigureLookup(t *testing.T) {
	cfg := DefaultConfig()
	f, err := cfg.Figure("density")
	require.NoError(t, err)
	assert.Equal(t, "crop", f.GroupBy)

	_, err = cfg.Figure("unknown")
	assert.Error(t, err)
}
