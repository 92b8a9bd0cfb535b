package triangulate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(x, y, z float64) [3]float64 {
	n := math.Sqrt(x*x + y*y + z*z)
	return [3]float64{x / n, y / n, z / n}
}

func TestMidpoint(t *testing.T) {
	t.Run("intersecting rays", func(t *testing.T) {
		rays := []Ray{
			{Origin: [3]float64{1, 0, 0}, Direction: unit(-1, 0, 0)},
			{Origin: [3]float64{0, 2, 0}, Direction: unit(0, -1, 0)},
			{Origin: [3]float64{0, 0, 3}, Direction: unit(0, 0, -1)},
		}
		p, err := Midpoint(rays, 0)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0, 0, 0}, p[:], 1e-12)
	})

	t.Run("skew rays meet halfway", func(t *testing.T) {
		// Line along x at z=0 and line along y at z=1.
		rays := []Ray{
			{Origin: [3]float64{-5, 0, 0}, Direction: unit(1, 0, 0)},
			{Origin: [3]float64{0, -5, 1}, Direction: unit(0, 1, 0)},
		}
		p, err := Midpoint(rays, 0)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0, 0, 0.5}, p[:], 1e-12)
	})

	t.Run("parallel rays are degenerate", func(t *testing.T) {
		rays := []Ray{
			{Origin: [3]float64{0, 0, 0}, Direction: unit(1, 0, 0)},
			{Origin: [3]float64{0, 1, 0}, Direction: unit(1, 0, 0)},
			{Origin: [3]float64{0, 0, 1}, Direction: unit(-1, 0, 0)},
		}
		_, err := Midpoint(rays, 0)
		assert.ErrorIs(t, err, ErrDegenerate)
	})

	t.Run("fewer than two rays", func(t *testing.T) {
		_, err := Midpoint([]Ray{{Direction: unit(1, 0, 0)}}, 0)
		assert.ErrorIs(t, err, ErrDegenerate)
	})

	t.Run("condition limit is honoured", func(t *testing.T) {
		// Nearly parallel rays are solvable but badly conditioned.
		rays := []Ray{
			{Origin: [3]float64{0, 0, 0}, Direction: unit(1, 0, 0)},
			{Origin: [3]float64{0, 1, 0}, Direction: unit(1, -1e-4, 0)},
		}
		_, err := Midpoint(rays, 0)
		assert.NoError(t, err)
		_, err = Midpoint(rays, 1e6)
		assert.ErrorIs(t, err, ErrDegenerate)
	})
}
