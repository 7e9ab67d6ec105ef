// Package grid constructs synthetic covariate grids for posterior
// prediction. A grid sweeps one axis (edge distance or trap-days) over the
// observed range with a fixed step and crosses it with every crop and
// habitat level, holding the remaining covariate at a representative value.
package grid

import (
	"fmt"
)

// Axis selects which covariate a Builder sweeps.
type Axis int

const (
	AxisDistance Axis = iota
	AxisTrapDays
)

func (a Axis) String() string {
	switch a {
	case AxisDistance:
		return "distance"
	case AxisTrapDays:
		return "trapdays"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Row is one prediction point: a distance from the field edge in meters,
// a trap-days exposure, and the categorical covariates.
type Row struct {
	Distance float64
	TrapDays float64
	Crop     string
	Habitat  string
}

// Sweep returns from..to inclusive at the given step. The loop limit is
// extended by half a step so accumulated floating-point error cannot drop
// the upper bound.
func Sweep(from, to, step float64) ([]float64, error) {
	if step <= 0 {
		return nil, fmt.Errorf("grid: step must be > 0, got %g", step)
	}
	if to < from {
		return nil, fmt.Errorf("grid: invalid range [%g, %g]", from, to)
	}
	var out []float64
	for v := from; v <= to+step/2; v += step {
		out = append(out, v)
	}
	return out, nil
}

// Builder describes one grid request for a model.
type Builder struct {
	Axis Axis

	// Swept range.
	From, To, Step float64

	// Representative value for the covariate that is not swept: trap-days
	// when sweeping distance, distance when sweeping trap-days.
	FixedTrapDays float64
	FixedDistance float64

	Crops    []string
	Habitats []string
}

// Build returns the full Cartesian product of the swept axis with every
// crop and habitat level. Row order is axis-major, then crop, then
// habitat, and is deterministic.
func (b Builder) Build() ([]Row, error) {
	if len(b.Crops) == 0 || len(b.Habitats) == 0 {
		return nil, fmt.Errorf("grid: need at least one crop and one habitat level")
	}
	vals, err := Sweep(b.From, b.To, b.Step)
	if err != nil {
		return nil, err
	}
	if b.Axis == AxisDistance && b.FixedTrapDays <= 0 {
		return nil, fmt.Errorf("grid: fixed trap-days must be > 0, got %g", b.FixedTrapDays)
	}
	if b.Axis == AxisTrapDays && b.From <= 0 {
		return nil, fmt.Errorf("grid: trap-days sweep must start > 0, got %g", b.From)
	}

	rows := make([]Row, 0, len(vals)*len(b.Crops)*len(b.Habitats))
	for _, v := range vals {
		for _, crop := range b.Crops {
			for _, hab := range b.Habitats {
				r := Row{Crop: crop, Habitat: hab}
				switch b.Axis {
				case AxisDistance:
					r.Distance = v
					r.TrapDays = b.FixedTrapDays
				case AxisTrapDays:
					r.TrapDays = v
					r.Distance = b.FixedDistance
				default:
					return nil, fmt.Errorf("grid: unknown axis %v", b.Axis)
				}
				rows = append(rows, r)
			}
		}
	}
	return rows, nil
}
