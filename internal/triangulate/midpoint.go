package triangulate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/irmarker/internal/geometry"
)

// ErrDegenerate is returned when the rays do not determine a unique point,
// for example when they are all parallel.
var ErrDegenerate = errors.New("degenerate ray configuration")

// DefaultConditionLimit is the largest condition number of the normal
// matrix accepted as invertible.
const DefaultConditionLimit = 1e12

// Ray is a camera centre and a unit direction.
type Ray struct {
	Origin    [3]float64
	Direction [3]float64
}

// RayThrough returns the ray from cam's centre through the undistorted
// pixel (u, v).
func RayThrough(cam *geometry.Camera, u, v float64) (Ray, error) {
	a := cam.Position()
	h := cam.BackProject(u, v)
	if h[3] == 0 || math.IsNaN(h[3]) {
		return Ray{}, fmt.Errorf("%w: back-projection at infinity", ErrDegenerate)
	}
	var b [3]float64
	var norm float64
	for i := 0; i < 3; i++ {
		b[i] = h[i]/h[3] - a[i]
		norm += b[i] * b[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return Ray{}, fmt.Errorf("%w: zero-length ray", ErrDegenerate)
	}
	for i := range b {
		b[i] /= norm
	}
	return Ray{Origin: a, Direction: b}, nil
}

// Midpoint returns the point minimising the summed squared perpendicular
// distance to rays. With C = nI - sum(b b^T), s1 = sum(a) and
// s2 = sum(b (b^T a)), the point is C^-1 (s1 - s2), which equals the
// closed form (1/n)(I + B B^T C^-1) s1 - C^-1 s2.
//
// conditionLimit bounds the condition number of C; zero means
// DefaultConditionLimit.
func Midpoint(rays []Ray, conditionLimit float64) ([3]float64, error) {
	n := len(rays)
	if n < 2 {
		return [3]float64{}, fmt.Errorf("%w: %d rays", ErrDegenerate, n)
	}
	if conditionLimit <= 0 {
		conditionLimit = DefaultConditionLimit
	}

	c := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		c.Set(i, i, float64(n))
	}
	rhs := mat.NewVecDense(3, nil)
	for _, r := range rays {
		b := mat.NewVecDense(3, r.Direction[:])
		a := mat.NewVecDense(3, r.Origin[:])

		var bbt mat.Dense
		bbt.Outer(1, b, b)
		c.Sub(c, &bbt)

		// rhs += a - b (b.a)
		rhs.AddVec(rhs, a)
		rhs.AddScaledVec(rhs, -mat.Dot(b, a), b)
	}

	var lu mat.LU
	lu.Factorize(c)
	if cond := lu.Cond(); math.IsInf(cond, 0) || math.IsNaN(cond) || cond > conditionLimit {
		return [3]float64{}, fmt.Errorf("%w: normal matrix condition %g", ErrDegenerate, cond)
	}

	var p mat.VecDense
	if err := lu.SolveVecTo(&p, false, rhs); err != nil {
		return [3]float64{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}
	out := [3]float64{p.AtVec(0), p.AtVec(1), p.AtVec(2)}
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return [3]float64{}, fmt.Errorf("%w: non-finite solution", ErrDegenerate)
		}
	}
	return out, nil
}
