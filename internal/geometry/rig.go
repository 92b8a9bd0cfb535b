package geometry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerateView is returned by LookAt when the viewing direction is
// undefined or parallel to the up vector.
var ErrDegenerateView = errors.New("degenerate camera view")

// Intrinsics is an ideal pinhole intrinsic matrix.
type Intrinsics struct {
	Fx, Fy, Cx, Cy float64
}

// Matrix returns the 3x3 camera matrix.
func (in Intrinsics) Matrix() [][]float64 {
	return [][]float64{
		{in.Fx, 0, in.Cx},
		{0, in.Fy, in.Cy},
		{0, 0, 1},
	}
}

// LookAt builds the calibration of a camera at eye looking at target, with
// the image y axis pointing away from up. Distortion is dist (k1 k2 p1 p2
// k3), or zero when nil.
func LookAt(in Intrinsics, dist []float64, eye, target, up [3]float64) (Calibration, error) {
	e := r3.Vec{X: eye[0], Y: eye[1], Z: eye[2]}
	forward := r3.Sub(r3.Vec{X: target[0], Y: target[1], Z: target[2]}, e)
	if r3.Norm(forward) == 0 {
		return Calibration{}, ErrDegenerateView
	}
	z := r3.Unit(forward)
	xAxis := r3.Cross(z, r3.Vec{X: up[0], Y: up[1], Z: up[2]})
	if r3.Norm(xAxis) < 1e-12 {
		return Calibration{}, ErrDegenerateView
	}
	x := r3.Unit(xAxis)
	y := r3.Cross(z, x)

	if dist == nil {
		dist = make([]float64, 5)
	}
	return Calibration{
		CameraMatrix:           in.Matrix(),
		DistortionCoefficients: [][]float64{append([]float64(nil), dist...)},
		RotationMatrix: [][]float64{
			{x.X, x.Y, x.Z},
			{y.X, y.Y, y.Z},
			{z.X, z.Y, z.Z},
		},
		TranslationVector: [][]float64{
			{clean(-r3.Dot(x, e))},
			{clean(-r3.Dot(y, e))},
			{clean(-r3.Dot(z, e))},
		},
	}, nil
}

// clean turns negative zero into zero so fixtures print tidily.
func clean(v float64) float64 {
	if v == 0 || math.Abs(v) < 1e-15 {
		return 0
	}
	return v
}
