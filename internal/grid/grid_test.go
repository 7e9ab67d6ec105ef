package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep(t *testing.T) {
	t.Run("includes upper bound despite float accumulation", func(t *testing.T) {
		// 0.1 steps accumulate error; 3.0 must still be present.
		vals, err := Sweep(0, 3, 0.1)
		require.NoError(t, err)
		require.Len(t, vals, 31)
		assert.InDelta(t, 3.0, vals[len(vals)-1], 1e-9)
	})

	t.Run("includes bound when step does not divide range", func(t *testing.T) {
		vals, err := Sweep(0, 50, 7)
		require.NoError(t, err)
		// 0,7,...,49: the nominal bound is between steps, nothing past it.
		assert.Equal(t, []float64{0, 7, 14, 21, 28, 35, 42, 49}, vals)
	})

	t.Run("single point range", func(t *testing.T) {
		vals, err := Sweep(25, 25, 5)
		require.NoError(t, err)
		assert.Equal(t, []float64{25}, vals)
	})

	t.Run("rejects non-positive step", func(t *testing.T) {
		_, err := Sweep(0, 10, 0)
		assert.Error(t, err)
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		_, err := Sweep(10, 0, 1)
		assert.Error(t, err)
	})
}

func TestBuilderBuild(t *testing.T) {
	t.Run("full cartesian product over distance sweep", func(t *testing.T) {
		b := Builder{
			Axis:          AxisDistance,
			From:          0,
			To:            50,
			Step:          25,
			FixedTrapDays: 14,
			Crops:         []string{"Cereal", "Legume"},
			Habitats:      []string{"control", "herbaceous", "woody"},
		}
		rows, err := b.Build()
		require.NoError(t, err)
		assert.Len(t, rows, 3*2*3)

		// Axis-major ordering, fixed covariate held constant.
		assert.Equal(t, Row{Distance: 0, TrapDays: 14, Crop: "Cereal", Habitat: "control"}, rows[0])
		for _, r := range rows {
			assert.Equal(t, 14.0, r.TrapDays)
		}
		assert.Equal(t, 50.0, rows[len(rows)-1].Distance)
	})

	t.Run("trap-days sweep holds distance fixed", func(t *testing.T) {
		b := Builder{
			Axis:          AxisTrapDays,
			From:          7,
			To:            28,
			Step:          7,
			FixedDistance: 10,
			Crops:         []string{"Maize"},
			Habitats:      []string{"control"},
		}
		rows, err := b.Build()
		require.NoError(t, err)
		require.Len(t, rows, 4)
		for _, r := range rows {
			assert.Equal(t, 10.0, r.Distance)
		}
		assert.Equal(t, 28.0, rows[3].TrapDays)
	})

	t.Run("rejects empty factor levels", func(t *testing.T) {
		b := Builder{Axis: AxisDistance, To: 10, Step: 1, FixedTrapDays: 1, Crops: []string{"Cereal"}}
		_, err := b.Build()
		assert.Error(t, err)
	})

	t.Run("rejects non-positive fixed trap-days", func(t *testing.T) {
		b := Builder{
			Axis: AxisDistance, To: 10, Step: 1,
			Crops: []string{"Cereal"}, Habitats: []string{"control"},
		}
		_, err := b.Build()
		assert.Error(t, err)
	})
}
