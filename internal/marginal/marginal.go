// Package marginal collapses posterior expectation draws over nuisance
// covariates to produce marginal response curves.
//
// The core invariant: averaging happens within a fixed draw index.
// Averaging across draws would conflate posterior uncertainty with
// between-group variation and invalidate any credible interval computed
// downstream.
package marginal

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"margins/internal/modelstore"
	"margins/internal/posterior"
)

// GroupKey selects the covariate kept as a grouping dimension; everything
// else among {crop, habitat} is marginalized out.
type GroupKey int

const (
	GroupNone GroupKey = iota // marginalize over both crop and habitat
	GroupCrop
	GroupHabitat
)

// ParseGroupKey maps a config string to a GroupKey.
func ParseGroupKey(s string) (GroupKey, error) {
	switch s {
	case "", "none":
		return GroupNone, nil
	case "crop":
		return GroupCrop, nil
	case "habitat":
		return GroupHabitat, nil
	default:
		return 0, fmt.Errorf("marginal: unknown group key %q", s)
	}
}

func (k GroupKey) String() string {
	switch k {
	case GroupNone:
		return "none"
	case GroupCrop:
		return "crop"
	case GroupHabitat:
		return "habitat"
	default:
		return fmt.Sprintf("group(%d)", int(k))
	}
}

// Policy is the marginalization strategy. The upstream analysis treats
// these as equally defensible choices, so the strategy is configuration,
// not hard-coded behavior.
type Policy int

const (
	// PolicyAverage takes the arithmetic mean across the marginalized
	// dimension. Valid as a population average because the grid is
	// artificially balanced.
	PolicyAverage Policy = iota
	// PolicyRaw passes every source combination through unaveraged.
	PolicyRaw
	// PolicyReference keeps only rows at the reference level of the
	// marginalized dimension.
	PolicyReference
)

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "average":
		return PolicyAverage, nil
	case "raw":
		return PolicyRaw, nil
	case "reference":
		return PolicyReference, nil
	default:
		return 0, fmt.Errorf("marginal: unknown policy %q", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyAverage:
		return "average"
	case PolicyRaw:
		return "raw"
	case PolicyReference:
		return "reference"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Reference names the reference levels used by PolicyReference.
type Reference struct {
	Crop    string
	Habitat string
}

// CurvePoint is one marginal expectation: a model, a distance, an
// optional group level, a draw index, and the (possibly averaged) value.
type CurvePoint struct {
	Model    string
	Distance float64
	Group    string // "" under GroupNone
	Draw     int
	Value    float64
}

type curveKey struct {
	model    string
	distance float64
	group    string
	draw     int
}

// Marginalize collapses draws over the covariates not selected by key,
// according to the policy. Distances are compared exactly; grid rows come
// from a single sweep so equal distances are bit-identical.
func Marginalize(draws []posterior.Draw, key GroupKey, pol Policy, ref Reference) ([]CurvePoint, error) {
	if len(draws) == 0 {
		return nil, fmt.Errorf("marginal: no draws to marginalize")
	}

	group := func(d posterior.Draw) string {
		switch key {
		case GroupCrop:
			return d.Row.Crop
		case GroupHabitat:
			return d.Row.Habitat
		default:
			return ""
		}
	}

	keep := func(d posterior.Draw) bool {
		if pol != PolicyReference {
			return true
		}
		switch key {
		case GroupCrop:
			return d.Row.Habitat == ref.Habitat
		case GroupHabitat:
			return d.Row.Crop == ref.Crop
		default:
			return d.Row.Crop == ref.Crop && d.Row.Habitat == ref.Habitat
		}
	}

	if pol == PolicyRaw || pol == PolicyReference {
		out := make([]CurvePoint, 0, len(draws))
		for _, d := range draws {
			if !keep(d) {
				continue
			}
			out = append(out, CurvePoint{
				Model:    d.Model,
				Distance: d.Row.Distance,
				Group:    group(d),
				Draw:     d.Draw,
				Value:    d.Value,
			})
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("marginal: reference levels %+v match no draws", ref)
		}
		sortPoints(out)
		return out, nil
	}

	// PolicyAverage: collect values per (model, distance, group, draw) and
	// take the unweighted mean over the marginalized dimension.
	vals := make(map[curveKey][]float64)
	for _, d := range draws {
		k := curveKey{model: d.Model, distance: d.Row.Distance, group: group(d), draw: d.Draw}
		vals[k] = append(vals[k], d.Value)
	}

	out := make([]CurvePoint, 0, len(vals))
	for k, v := range vals {
		out = append(out, CurvePoint{
			Model:    k.model,
			Distance: k.distance,
			Group:    k.group,
			Draw:     k.draw,
			Value:    stat.Mean(v, nil),
		})
	}
	sortPoints(out)
	return out, nil
}

func sortPoints(pts []CurvePoint) {
	sort.Slice(pts, func(i, j int) bool {
		a, b := pts[i], pts[j]
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.Draw < b.Draw
	})
}

// MaxDist maps a group level ("" under GroupNone) to the maximum distance
// observed for that level in the source data. Curves are not meaningful
// beyond a group's actual sampling range.
type MaxDist map[string]float64

// MaxDistances scans observations and records the per-group maximum
// sampled distance.
func MaxDistances(obs []modelstore.Observation, key GroupKey) MaxDist {
	md := make(MaxDist)
	for _, o := range obs {
		var g string
		switch key {
		case GroupCrop:
			g = o.Crop
		case GroupHabitat:
			g = o.Habitat
		}
		if cur, ok := md[g]; !ok || o.Distance > cur {
			md[g] = o.Distance
		}
	}
	return md
}

// Truncate drops points beyond their group's maximum observed distance.
// Points at exactly the maximum are kept; groups absent from md are
// dropped entirely.
func Truncate(pts []CurvePoint, md MaxDist) []CurvePoint {
	out := make([]CurvePoint, 0, len(pts))
	for _, p := range pts {
		max, ok := md[p.Group]
		if !ok {
			continue
		}
		if p.Distance <= max {
			out = append(out, p)
		}
	}
	return out
}
