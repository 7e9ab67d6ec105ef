// Package pipeline runs the figure pipeline: load fitted models, build
// prediction grids, expand posterior expectations, marginalize, render.
//
// Execution is deliberately single-pass and synchronous. Posterior
// expansion multiplies grid rows by thousands of draws, so each figure's
// draw tables are dropped before the next figure starts to bound peak
// memory. Any stage error aborts the whole run.
package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"margins/internal/config"
	"margins/internal/grid"
	"margins/internal/marginal"
	"margins/internal/modelstore"
	"margins/internal/posterior"
	"margins/internal/render"
)

// Pipeline wires the stages together for one run.
type Pipeline struct {
	cfg    *config.Config
	store  *modelstore.Store
	logger *zap.Logger
}

// New opens the model store and returns a ready pipeline.
func New(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := modelstore.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, store: store, logger: logger}, nil
}

// Store exposes the model store for inspection commands.
func (p *Pipeline) Store() *modelstore.Store { return p.store }

// Run renders the named figures (all configured figures when names is
// empty) and writes the run manifest to the output directory.
func (p *Pipeline) Run(names []string) (*Manifest, error) {
	figs, err := p.selectFigures(names)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	man := &Manifest{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	for _, fig := range figs {
		start := time.Now()
		res, err := p.runFigure(fig)
		if err != nil {
			return nil, fmt.Errorf("pipeline: figure %s: %w", fig.Name, err)
		}
		res.Duration = time.Since(start).Round(time.Millisecond)
		man.Figures = append(man.Figures, res)
		p.logger.Info("figure rendered",
			zap.String("figure", fig.Name),
			zap.String("output", res.Output),
			zap.Int("draws", res.Draws),
			zap.Int("facets", res.Facets),
			zap.Duration("took", res.Duration))
	}
	man.FinishedAt = time.Now().UTC()

	if err := man.Write(p.cfg.OutDir); err != nil {
		return nil, err
	}
	return man, nil
}

func (p *Pipeline) selectFigures(names []string) ([]config.FigureConfig, error) {
	if len(names) == 0 {
		return p.cfg.Figures, nil
	}
	var figs []config.FigureConfig
	for _, n := range names {
		f, err := p.cfg.Figure(n)
		if err != nil {
			return nil, err
		}
		figs = append(figs, f)
	}
	return figs, nil
}

// figureData is the intermediate state for one figure, released when the
// figure is done.
type figureData struct {
	points []marginal.CurvePoint
	obs    []modelstore.Observation
	key    marginal.GroupKey
	draws  int
}

// runFigure executes loader, grid builder, predictor and marginalizer,
// then hands the summarized curves to the renderer.
func (p *Pipeline) runFigure(fig config.FigureConfig) (FigureResult, error) {
	data, err := p.computeFigure(fig)
	if err != nil {
		return FigureResult{}, err
	}

	md := marginal.MaxDistances(data.obs, data.key)
	data.points = marginal.Truncate(data.points, md)
	if len(data.points) == 0 {
		return FigureResult{}, fmt.Errorf("no curve points remain inside the sampled distance range")
	}

	curves, err := render.Summarize(data.points, p.cfg.Intervals)
	if err != nil {
		return FigureResult{}, err
	}
	rugs := modelstore.Rugs(data.obs)

	// The draw table is the memory hog; the renderer only needs the
	// summaries from here on.
	npoints := len(data.points)
	data.points = nil

	out := filepath.Join(p.cfg.OutDir, fig.Name+".png")
	rf := render.Figure{
		Title:    fig.Title,
		YLabel:   fig.YLabel,
		LineHex:  fig.LineColor,
		FillHex:  fig.FillColor,
		Cols:     fig.Cols,
		WidthIn:  fig.WidthIn,
		HeightIn: fig.HeightIn,
		DPI:      fig.DPI,
	}
	if err := render.RenderPNG(out, rf, curves, rugs, data.key); err != nil {
		return FigureResult{}, err
	}

	return FigureResult{
		Name:   fig.Name,
		Output: out,
		Models: fig.Models,
		Draws:  data.draws,
		Points: npoints,
		Facets: len(curves),
	}, nil
}

// computeFigure runs the pipeline through marginalization for one figure.
func (p *Pipeline) computeFigure(fig config.FigureConfig) (*figureData, error) {
	key, err := marginal.ParseGroupKey(fig.GroupBy)
	if err != nil {
		return nil, err
	}
	pol, err := marginal.ParsePolicy(fig.Policy)
	if err != nil {
		return nil, err
	}
	ref := marginal.Reference{Crop: fig.ReferenceCrop, Habitat: fig.ReferenceHabitat}

	var draws []posterior.Draw
	var allObs []modelstore.Observation
	ndraws := 0
	for _, id := range fig.Models {
		model, err := p.store.LoadModel(id)
		if err != nil {
			return nil, err
		}
		obs, err := p.store.LoadObservations(id)
		if err != nil {
			return nil, err
		}

		rows, err := p.buildGrid(obs)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", id, err)
		}
		d, err := model.Predict(rows)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("posterior expanded",
			zap.String("model", id),
			zap.Int("grid_rows", len(rows)),
			zap.Int("draws", len(d)))

		ndraws += len(d)
		draws = append(draws, d...)
		allObs = append(allObs, obs...)
	}

	// The expanded draw table dies here; only the marginal points leave.
	points, err := marginal.Marginalize(draws, key, pol, ref)
	if err != nil {
		return nil, err
	}
	return &figureData{points: points, obs: allObs, key: key, draws: ndraws}, nil
}

// buildGrid sweeps distance over the model's observed range and holds
// trap-days at the geometric mean of the observed exposures, matching
// the log-scale offset used during fitting.
func (p *Pipeline) buildGrid(obs []modelstore.Observation) ([]grid.Row, error) {
	maxDist := 0.0
	logTD := make([]float64, 0, len(obs))
	for _, o := range obs {
		if o.Distance > maxDist {
			maxDist = o.Distance
		}
		if o.TrapDays > 0 {
			logTD = append(logTD, math.Log(o.TrapDays))
		}
	}
	if len(logTD) == 0 {
		return nil, fmt.Errorf("observations carry no positive trap-days")
	}

	b := grid.Builder{
		Axis:          grid.AxisDistance,
		From:          0,
		To:            maxDist,
		Step:          p.cfg.Grid.DistanceStep,
		FixedTrapDays: math.Exp(stat.Mean(logTD, nil)),
		Crops:         p.cfg.Grid.Crops,
		Habitats:      p.cfg.Grid.Habitats,
	}
	return b.Build()
}

// WriteCurvesCSV runs the pipeline through marginalization for one figure
// and writes the truncated curve points as CSV, one row per
// (model, distance, group, draw).
func (p *Pipeline) WriteCurvesCSV(name string, w io.Writer) error {
	fig, err := p.cfg.Figure(name)
	if err != nil {
		return err
	}
	data, err := p.computeFigure(fig)
	if err != nil {
		return fmt.Errorf("pipeline: figure %s: %w", name, err)
	}
	pts := marginal.Truncate(data.points, marginal.MaxDistances(data.obs, data.key))

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"model", "distance", "group", "draw", "value"}); err != nil {
		return err
	}
	for _, pt := range pts {
		rec := []string{
			pt.Model,
			strconv.FormatFloat(pt.Distance, 'g', -1, 64),
			pt.Group,
			strconv.Itoa(pt.Draw),
			strconv.FormatFloat(pt.Value, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
