// Package posterior evaluates population-level posterior expectations of a
// fitted regression model over a prediction grid.
//
// A fitted model is a matrix of posterior coefficient draws over named
// design terms. Terms use treatment coding as emitted by the upstream
// fitting step: "Intercept", "dist_scaled", "log_trapdays",
// "crop<Level>", "habitat<Level>", and ":"-joined products of those for
// interactions. Group-level (study/site) deviations are stored alongside
// the model but never enter prediction, so every expectation is the
// population-level trend.
package posterior

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"margins/internal/grid"
)

// Link is the model's link function. Expectations are computed on the
// linear-predictor scale and mapped back through the inverse link.
type Link int

const (
	LinkIdentity Link = iota
	LinkLog
)

// ParseLink maps the serialized link name to a Link.
func ParseLink(s string) (Link, error) {
	switch s {
	case "identity":
		return LinkIdentity, nil
	case "log":
		return LinkLog, nil
	default:
		return 0, fmt.Errorf("posterior: unknown link %q", s)
	}
}

func (l Link) String() string {
	switch l {
	case LinkIdentity:
		return "identity"
	case LinkLog:
		return "log"
	default:
		return fmt.Sprintf("link(%d)", int(l))
	}
}

// Inverse maps a linear predictor back to the response scale.
func (l Link) Inverse(eta float64) float64 {
	if l == LinkLog {
		return math.Exp(eta)
	}
	return eta
}

// Meta describes one fitted model.
type Meta struct {
	ID     string
	Family string // richness, density, size
	Subset string // all, predatory, granivorous, or a size class
	Link   Link

	// Standardization constants applied to distance during fitting.
	DistMean, DistSD float64

	Draws int
}

// Model holds the population-level posterior sample. Immutable after load.
type Model struct {
	Meta  Meta
	Terms []string    // design column order
	Coefs [][]float64 // [draw][term]
}

// Draw is one expected-response value for one grid row under one
// posterior draw. Draw indices are comparable only within a single model.
type Draw struct {
	Model string
	Row   grid.Row
	Draw  int
	Value float64
}

// Validate checks internal consistency after loading.
func (m *Model) Validate() error {
	if m.Meta.ID == "" {
		return fmt.Errorf("posterior: model without id")
	}
	if len(m.Coefs) == 0 {
		return fmt.Errorf("posterior: model %s has no posterior draws", m.Meta.ID)
	}
	if len(m.Terms) == 0 {
		return fmt.Errorf("posterior: model %s has no design terms", m.Meta.ID)
	}
	for i, c := range m.Coefs {
		if len(c) != len(m.Terms) {
			return fmt.Errorf("posterior: model %s draw %d has %d coefficients, want %d",
				m.Meta.ID, i, len(c), len(m.Terms))
		}
	}
	if m.Meta.DistSD <= 0 {
		return fmt.Errorf("posterior: model %s has non-positive distance sd %g", m.Meta.ID, m.Meta.DistSD)
	}
	return nil
}

// Predict returns one expectation draw per (row x posterior draw). The
// grid is synthetic and balanced, so categorical levels with no matching
// coefficient term resolve to the reference level rather than erroring.
// Output order is row-major then draw, and is deterministic: the draws
// are stored, not sampled, so repeated calls are bit-identical.
func (m *Model) Predict(rows []grid.Row) ([]Draw, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := make([]Draw, 0, len(rows)*len(m.Coefs))
	x := make([]float64, len(m.Terms))
	for _, r := range rows {
		if err := m.designVector(r, x); err != nil {
			return nil, fmt.Errorf("model %s: %w", m.Meta.ID, err)
		}
		for d, beta := range m.Coefs {
			eta := floats.Dot(beta, x)
			out = append(out, Draw{
				Model: m.Meta.ID,
				Row:   r,
				Draw:  d,
				Value: m.Meta.Link.Inverse(eta),
			})
		}
	}
	return out, nil
}

// designVector fills x with the treatment-coded design row for r.
func (m *Model) designVector(r grid.Row, x []float64) error {
	if r.TrapDays <= 0 {
		return fmt.Errorf("posterior: trap-days must be > 0, got %g", r.TrapDays)
	}
	for i, term := range m.Terms {
		v := 1.0
		for _, f := range strings.Split(term, ":") {
			fv, err := m.factor(f, r)
			if err != nil {
				return err
			}
			v *= fv
		}
		x[i] = v
	}
	return nil
}

func (m *Model) factor(name string, r grid.Row) (float64, error) {
	switch {
	case name == "Intercept":
		return 1, nil
	case name == "dist_scaled":
		return (r.Distance - m.Meta.DistMean) / m.Meta.DistSD, nil
	case name == "log_trapdays":
		return math.Log(r.TrapDays), nil
	case strings.HasPrefix(name, "crop"):
		if r.Crop == strings.TrimPrefix(name, "crop") {
			return 1, nil
		}
		return 0, nil
	case strings.HasPrefix(name, "habitat"):
		if r.Habitat == strings.TrimPrefix(name, "habitat") {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("posterior: unknown design term %q", name)
	}
}
