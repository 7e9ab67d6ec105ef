// Package modelstore reads pre-fitted model objects and their observation
// tables from disk. Each model is one SQLite file under <dir>/models/
// produced by the upstream fitting step, holding posterior coefficient
// draws, group-level deviations, and the source observations.
package modelstore

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"margins/internal/posterior"
)

// Observation is one row of the source data a model was fitted on. Used
// for rug marks and per-group maximum distances, never for inference.
type Observation struct {
	Crop     string
	Habitat  string
	Distance float64
	TrapDays float64
	Response float64
}

// Rug is a distinct (crop, habitat, distance) triple observed in the
// source data, used only for display.
type Rug struct {
	Crop     string
	Habitat  string
	Distance float64
}

// Store locates and loads fitted models from a data directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// Open validates the directory layout and returns a Store. No files are
// read until a model is loaded.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(filepath.Join(dir, "models"))
	if err != nil {
		return nil, fmt.Errorf("modelstore: no models directory under %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("modelstore: %s is not a directory", filepath.Join(dir, "models"))
	}
	return &Store{dir: dir, logger: logger}, nil
}

// List returns the model ids present in the store, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "models"))
	if err != nil {
		return nil, fmt.Errorf("modelstore: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".db"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) open(id string) (*sql.DB, error) {
	path := filepath.Join(s.dir, "models", id+".db")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("modelstore: model %s: %w", id, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("modelstore: model %s: %w", id, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		s.logger.Debug("failed to set busy_timeout", zap.String("model", id), zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		s.logger.Debug("failed to set journal_mode=WAL", zap.String("model", id), zap.Error(err))
	}
	return db, nil
}

// LoadModel reads the metadata and fixed-effect draw matrix for id.
// Group-level draws are shape-checked but not loaded into the model;
// predictions are population-level by contract.
func (s *Store) LoadModel(id string) (*posterior.Model, error) {
	db, err := s.open(id)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	meta, err := s.loadMeta(db, id)
	if err != nil {
		return nil, err
	}
	terms, coefs, err := s.loadFixedDraws(db, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkGroupDraws(db, id, len(coefs)); err != nil {
		return nil, err
	}

	m := &posterior.Model{Meta: meta, Terms: terms, Coefs: coefs}
	m.Meta.Draws = len(coefs)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	s.logger.Debug("loaded model",
		zap.String("model", id),
		zap.String("family", meta.Family),
		zap.Int("draws", len(coefs)),
		zap.Int("terms", len(terms)))
	return m, nil
}

func (s *Store) loadMeta(db *sql.DB, id string) (posterior.Meta, error) {
	rows, err := db.Query("SELECT key, value FROM model_meta")
	if err != nil {
		return posterior.Meta{}, fmt.Errorf("modelstore: model %s: model_meta: %w", id, err)
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return posterior.Meta{}, fmt.Errorf("modelstore: model %s: %w", id, err)
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return posterior.Meta{}, fmt.Errorf("modelstore: model %s: %w", id, err)
	}

	meta := posterior.Meta{ID: id}
	if v, ok := kv["id"]; ok && v != id {
		return posterior.Meta{}, fmt.Errorf("modelstore: file %s.db declares id %q", id, v)
	}
	meta.Family = kv["family"]
	meta.Subset = kv["subset"]
	if meta.Family == "" {
		return posterior.Meta{}, fmt.Errorf("modelstore: model %s: missing family in model_meta", id)
	}

	link, err := posterior.ParseLink(kv["link"])
	if err != nil {
		return posterior.Meta{}, fmt.Errorf("modelstore: model %s: %w", id, err)
	}
	meta.Link = link

	meta.DistMean, err = metaFloat(kv, "dist_mean")
	if err != nil {
		return posterior.Meta{}, fmt.Errorf("modelstore: model %s: %w", id, err)
	}
	meta.DistSD, err = metaFloat(kv, "dist_sd")
	if err != nil {
		return posterior.Meta{}, fmt.Errorf("modelstore: model %s: %w", id, err)
	}
	return meta, nil
}

func metaFloat(kv map[string]string, key string) (float64, error) {
	v, ok := kv[key]
	if !ok {
		return 0, fmt.Errorf("missing %s in model_meta", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", key, v, err)
	}
	return f, nil
}

// loadFixedDraws reads the (draw, term, value) triples into a dense
// coefficient matrix. Term order follows the first draw; every draw must
// cover the same terms.
func (s *Store) loadFixedDraws(db *sql.DB, id string) ([]string, [][]float64, error) {
	rows, err := db.Query("SELECT draw, term, value FROM fixed_draws ORDER BY draw, rowid")
	if err != nil {
		return nil, nil, fmt.Errorf("modelstore: model %s: fixed_draws: %w", id, err)
	}
	defer rows.Close()

	var terms []string
	index := make(map[string]int)
	var coefs [][]float64
	cur := -1
	var row []float64

	flush := func() error {
		if row == nil {
			return nil
		}
		for i, v := range row {
			if math.IsNaN(v) { // NaN marks a term missing from this draw
				return fmt.Errorf("modelstore: model %s: draw %d missing term %s", id, cur, terms[i])
			}
		}
		coefs = append(coefs, row)
		return nil
	}

	nan := func(n int) []float64 {
		r := make([]float64, n)
		for i := range r {
			r[i] = math.NaN()
		}
		return r
	}

	for rows.Next() {
		var draw int
		var term string
		var value float64
		if err := rows.Scan(&draw, &term, &value); err != nil {
			return nil, nil, fmt.Errorf("modelstore: model %s: %w", id, err)
		}
		if draw != cur {
			if err := flush(); err != nil {
				return nil, nil, err
			}
			cur = draw
			row = nan(len(terms))
		}
		i, ok := index[term]
		if !ok {
			if len(coefs) > 0 {
				return nil, nil, fmt.Errorf("modelstore: model %s: draw %d introduces unknown term %s", id, draw, term)
			}
			i = len(terms)
			index[term] = i
			terms = append(terms, term)
			row = append(row, value)
			continue
		}
		row[i] = value
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("modelstore: model %s: %w", id, err)
	}
	if err := flush(); err != nil {
		return nil, nil, err
	}
	if len(coefs) == 0 {
		return nil, nil, fmt.Errorf("modelstore: model %s: fixed_draws is empty", id)
	}
	return terms, coefs, nil
}

// checkGroupDraws validates the group-level table shape when present. The
// values themselves never enter prediction.
func (s *Store) checkGroupDraws(db *sql.DB, id string, draws int) error {
	var n int
	err := db.QueryRow("SELECT COUNT(DISTINCT draw) FROM group_draws").Scan(&n)
	if err != nil {
		if isMissingTable(err) {
			return nil
		}
		return fmt.Errorf("modelstore: model %s: group_draws: %w", id, err)
	}
	if n != 0 && n != draws {
		return fmt.Errorf("modelstore: model %s: group_draws has %d draws, fixed_draws has %d", id, n, draws)
	}
	return nil
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// LoadObservations reads the source data table for id.
func (s *Store) LoadObservations(id string) ([]Observation, error) {
	db, err := s.open(id)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query("SELECT crop, habitat, distance, trapdays, response FROM observations")
	if err != nil {
		return nil, fmt.Errorf("modelstore: model %s: observations: %w", id, err)
	}
	defer rows.Close()

	var obs []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.Crop, &o.Habitat, &o.Distance, &o.TrapDays, &o.Response); err != nil {
			return nil, fmt.Errorf("modelstore: model %s: %w", id, err)
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("modelstore: model %s: %w", id, err)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("modelstore: model %s: observations table is empty", id)
	}
	return obs, nil
}

// Rugs reduces observations to distinct (crop, habitat, distance)
// triples, sorted for stable plotting.
func Rugs(obs []Observation) []Rug {
	seen := make(map[Rug]struct{})
	var out []Rug
	for _, o := range obs {
		r := Rug{Crop: o.Crop, Habitat: o.Habitat, Distance: o.Distance}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Crop != b.Crop {
			return a.Crop < b.Crop
		}
		if a.Habitat != b.Habitat {
			return a.Habitat < b.Habitat
		}
		return a.Distance < b.Distance
	})
	return out
}
