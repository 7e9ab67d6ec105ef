// Package render turns marginal curve points into faceted
// line-and-ribbon figures with rug marks for the empirical sampling
// coverage.
package render

import (
	"fmt"
	"math"
	"sort"

	"margins/internal/marginal"
)

// Band is one central credible interval of the draw distribution at a
// distance.
type Band struct {
	Level float64 // e.g. 0.95
	Lo    float64
	Hi    float64
}

// Point is the summarized draw distribution at one distance.
type Point struct {
	Distance float64
	Median   float64
	Bands    []Band // same order as the requested levels
}

// Curve is one facet: all summarized points for a (model, group) pair,
// sorted by distance.
type Curve struct {
	Model  string
	Group  string
	Points []Point
}

// ValidateLevels checks interval levels are in (0,1) and strictly
// ascending.
func ValidateLevels(levels []float64) error {
	if len(levels) == 0 {
		return fmt.Errorf("render: no interval levels")
	}
	prev := 0.0
	for _, l := range levels {
		if l <= 0 || l >= 1 {
			return fmt.Errorf("render: interval level %g outside (0, 1)", l)
		}
		if l <= prev {
			return fmt.Errorf("render: interval levels must be strictly ascending, got %v", levels)
		}
		prev = l
	}
	return nil
}

type facetKey struct {
	model string
	group string
}

// quantile interpolates the p-quantile of sorted values using the same
// convention the upstream interval summaries use (linear interpolation
// between order statistics at h = (n-1)p).
func quantile(p float64, sorted []float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// Summarize computes, per (model, group, distance), the median and the
// requested central intervals of the draw distribution.
func Summarize(pts []marginal.CurvePoint, levels []float64) ([]Curve, error) {
	if err := ValidateLevels(levels); err != nil {
		return nil, err
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("render: no curve points to summarize")
	}

	type distKey struct {
		facetKey
		distance float64
	}
	vals := make(map[distKey][]float64)
	for _, p := range pts {
		k := distKey{facetKey{p.Model, p.Group}, p.Distance}
		vals[k] = append(vals[k], p.Value)
	}

	facets := make(map[facetKey][]Point)
	for k, v := range vals {
		sort.Float64s(v)
		pt := Point{
			Distance: k.distance,
			Median:   quantile(0.5, v),
		}
		for _, l := range levels {
			tail := (1 - l) / 2
			pt.Bands = append(pt.Bands, Band{
				Level: l,
				Lo:    quantile(tail, v),
				Hi:    quantile(1-tail, v),
			})
		}
		facets[k.facetKey] = append(facets[k.facetKey], pt)
	}

	out := make([]Curve, 0, len(facets))
	for k, points := range facets {
		sort.Slice(points, func(i, j int) bool { return points[i].Distance < points[j].Distance })
		out = append(out, Curve{Model: k.model, Group: k.group, Points: points})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].Group < out[j].Group
	})
	return out, nil
}
