package pipeline

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"margins/internal/config"
)

// writeModel creates a small fitted-model file with two posterior draws
// and observations out to maxDist.
func writeModel(t *testing.T, dir, id, family, link string, maxDist float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "models"), 0o755))
	db, err := sql.Open("sqlite", filepath.Join(dir, "models", id+".db"))
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE model_meta (key TEXT PRIMARY KEY, value TEXT)`,
		`CREATE TABLE fixed_draws (draw INTEGER, term TEXT, value REAL)`,
		`CREATE TABLE observations (crop TEXT, habitat TEXT, distance REAL, trapdays REAL, response REAL)`,
	}
	for _, s := range stmts {
		_, err = db.Exec(s)
		require.NoError(t, err)
	}
	meta := map[string]string{
		"family": family, "subset": "all", "link": link,
		"dist_mean": "10", "dist_sd": "5",
	}
	for k, v := range meta {
		_, err = db.Exec(`INSERT INTO model_meta VALUES (?, ?)`, k, v)
		require.NoError(t, err)
	}
	for draw := 0; draw < 2; draw++ {
		for term, v := range map[string]float64{
			"Intercept":   2 + float64(draw),
			"dist_scaled": -0.1,
			"cropLegume":  0.5,
		} {
			_, err = db.Exec(`INSERT INTO fixed_draws VALUES (?, ?, ?)`, draw, term, v)
			require.NoError(t, err)
		}
	}
	obs := [][]any{
		{"Cereal", "control", 0.0, 14.0, 5.0},
		{"Cereal", "woody", maxDist, 14.0, 3.0},
		{"Legume", "control", maxDist / 2, 7.0, 4.0},
	}
	for _, r := range obs {
		_, err = db.Exec(`INSERT INTO observations VALUES (?, ?, ?, ?, ?)`, r...)
		require.NoError(t, err)
	}
}

func testConfig(dataDir, outDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.OutDir = outDir
	cfg.Grid.DistanceStep = 10
	cfg.Grid.Crops = []string{"Cereal", "Legume"}
	cfg.Grid.Habitats = []string{"control", "woody"}
	cfg.Figures = []config.FigureConfig{
		{
			Name:   "richness",
			Title:  "Richness",
			YLabel: "Species richness",
			Models: []string{"richness_all"},
		},
		{
			Name:    "richness_by_crop",
			Title:   "Richness by crop",
			YLabel:  "Species richness",
			Models:  []string{"richness_all"},
			GroupBy: "crop",
		},
	}
	return cfg
}

func TestPipelineRun(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	writeModel(t, dataDir, "richness_all", "richness", "identity", 40)

	cfg := testConfig(dataDir, outDir)
	p, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	man, err := p.Run(nil)
	require.NoError(t, err)
	require.Len(t, man.Figures, 2)
	assert.NotEmpty(t, man.RunID)

	t.Run("figures and manifest on disk", func(t *testing.T) {
		for _, f := range man.Figures {
			info, err := os.Stat(f.Output)
			require.NoError(t, err)
			assert.Greater(t, info.Size(), int64(0))
		}
		data, err := os.ReadFile(filepath.Join(outDir, "manifest.json"))
		require.NoError(t, err)
		var got Manifest
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, man.RunID, got.RunID)
	})

	t.Run("draw accounting", func(t *testing.T) {
		// Sweep 0..40 step 10 -> 5 distances, 2 crops x 2 habitats, 2 draws.
		assert.Equal(t, 5*4*2, man.Figures[0].Draws)
		// Grand mean: one facet; per-crop: two facets.
		assert.Equal(t, 1, man.Figures[0].Facets)
		assert.Equal(t, 2, man.Figures[1].Facets)
	})

	t.Run("named figure subset", func(t *testing.T) {
		man, err := p.Run([]string{"richness"})
		require.NoError(t, err)
		require.Len(t, man.Figures, 1)
		assert.Equal(t, "richness", man.Figures[0].Name)
	})

	t.Run("unknown figure is fatal", func(t *testing.T) {
		_, err := p.Run([]string{"abundance"})
		assert.Error(t, err)
	})

	t.Run("missing model is fatal and names the model", func(t *testing.T) {
		cfg := testConfig(dataDir, outDir)
		cfg.Figures[0].Models = []string{"density_all"}
		p, err := New(cfg, nil)
		require.NoError(t, err)
		_, err = p.Run([]string{"richness"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "density_all")
	})
}

func TestWriteCurvesCSV(t *testing.T) {
	dataDir := t.TempDir()
	writeModel(t, dataDir, "richness_all", "richness", "identity", 20)

	cfg := testConfig(dataDir, t.TempDir())
	p, err := New(cfg, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, p.WriteCurvesCSV("richness_by_crop", &buf))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Greater(t, len(recs), 1)
	assert.Equal(t, []string{"model", "distance", "group", "draw", "value"}, recs[0])

	// Sweep 0..20 step 10 -> 3 distances x 2 draws for Cereal; Legume was
	// only sampled out to 10, so its distance-20 points are truncated.
	assert.Len(t, recs, 1+3*2+2*2)

	t.Run("truncation bounds the distances per group", func(t *testing.T) {
		maxByGroup := map[string]float64{"Cereal": 20, "Legume": 10}
		for _, r := range recs[1:] {
			dist, err := strconv.ParseFloat(r[1], 64)
			require.NoError(t, err)
			assert.LessOrEqual(t, dist, maxByGroup[r[2]])
		}
	})
}

func TestPipelineOpenErrors(t *testing.T) {
	cfg := testConfig(t.TempDir(), t.TempDir()) // no models dir
	_, err := New(cfg, nil)
	assert.Error(t, err)
}
