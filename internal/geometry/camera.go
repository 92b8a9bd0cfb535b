// Package geometry models a calibrated pinhole camera with a five
// coefficient radial/tangential lens distortion.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidShape is returned when a calibration matrix has the wrong
	// dimensions.
	ErrInvalidShape = errors.New("calibration matrix has wrong shape")
	// ErrSingular is returned when the intrinsic or rotation matrix cannot
	// be inverted.
	ErrSingular = errors.New("calibration matrix is singular")
	// ErrNotFinite is returned when a calibration value is NaN or infinite.
	ErrNotFinite = errors.New("calibration value is not finite")
)

// DefaultUndistortIterations matches the fixed iteration count of the
// usual OpenCV point undistortion.
const DefaultUndistortIterations = 5

// singularDet is the determinant magnitude below which K or R is treated
// as singular.
const singularDet = 1e-12

// pinvRcond is the relative singular value cutoff of the pseudo-inverse.
const pinvRcond = 1e-15

// Calibration holds the raw calibration of one camera as nested rows:
// CameraMatrix 3x3, DistortionCoefficients 1x5 (k1 k2 p1 p2 k3),
// RotationMatrix 3x3 and TranslationVector 3x1.
type Calibration struct {
	CameraMatrix           [][]float64 `json:"camera_matrix"`
	DistortionCoefficients [][]float64 `json:"distortion_coefficients"`
	RotationMatrix         [][]float64 `json:"rotation_matrix"`
	TranslationVector      [][]float64 `json:"translation_vector"`
}

// Option configures a Camera.
type Option func(*Camera)

// WithUndistortIterations sets the fixed-point iteration count used by
// Undistort. Values below 1 keep the default.
func WithUndistortIterations(n int) Option {
	return func(c *Camera) {
		if n > 0 {
			c.iterations = n
		}
	}
}

// Camera is an immutable, validated camera model. It is safe for
// concurrent use.
type Camera struct {
	k    *mat.Dense
	r    *mat.Dense
	t    *mat.VecDense
	p    *mat.Dense
	pinv *mat.Dense

	fx, fy, cx, cy, skew float64
	k1, k2, p1, p2, k3   float64

	position   [3]float64
	iterations int
}

// NewCamera validates c and precomputes the projection matrix, its
// pseudo-inverse and the camera centre.
func NewCamera(c Calibration, opts ...Option) (*Camera, error) {
	k, err := dense("camera_matrix", c.CameraMatrix, 3, 3)
	if err != nil {
		return nil, err
	}
	dist, err := dense("distortion_coefficients", c.DistortionCoefficients, 1, 5)
	if err != nil {
		return nil, err
	}
	r, err := dense("rotation_matrix", c.RotationMatrix, 3, 3)
	if err != nil {
		return nil, err
	}
	t, err := dense("translation_vector", c.TranslationVector, 3, 1)
	if err != nil {
		return nil, err
	}

	if d := mat.Det(k); math.Abs(d) < singularDet {
		return nil, fmt.Errorf("%w: camera_matrix determinant %g", ErrSingular, d)
	}
	if d := mat.Det(r); math.Abs(d) < singularDet {
		return nil, fmt.Errorf("%w: rotation_matrix determinant %g", ErrSingular, d)
	}

	cam := &Camera{
		k:          k,
		r:          r,
		t:          mat.NewVecDense(3, []float64{t.At(0, 0), t.At(1, 0), t.At(2, 0)}),
		fx:         k.At(0, 0),
		fy:         k.At(1, 1),
		cx:         k.At(0, 2),
		cy:         k.At(1, 2),
		skew:       k.At(0, 1),
		k1:         dist.At(0, 0),
		k2:         dist.At(0, 1),
		p1:         dist.At(0, 2),
		p2:         dist.At(0, 3),
		k3:         dist.At(0, 4),
		iterations: DefaultUndistortIterations,
	}
	for _, opt := range opts {
		opt(cam)
	}

	// P = K [R | T]
	rt := mat.NewDense(3, 4, nil)
	rt.Slice(0, 3, 0, 3).(*mat.Dense).Copy(r)
	rt.Slice(0, 3, 3, 4).(*mat.Dense).Copy(cam.t)
	cam.p = mat.NewDense(3, 4, nil)
	cam.p.Mul(k, rt)

	cam.pinv, err = pseudoInverse(cam.p)
	if err != nil {
		return nil, err
	}

	// C = -R^T T
	var pos mat.VecDense
	pos.MulVec(r.T(), cam.t)
	pos.ScaleVec(-1, &pos)
	cam.position = [3]float64{pos.AtVec(0), pos.AtVec(1), pos.AtVec(2)}

	return cam, nil
}

// dense converts nested rows into an r x c matrix, checking shape and
// finiteness.
func dense(name string, rows [][]float64, r, c int) (*mat.Dense, error) {
	if len(rows) != r {
		return nil, fmt.Errorf("%w: %s has %d rows, want %dx%d", ErrInvalidShape, name, len(rows), r, c)
	}
	data := make([]float64, 0, r*c)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("%w: %s row %d has %d columns, want %dx%d", ErrInvalidShape, name, i, len(row), r, c)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: %s[%d][%d] = %v", ErrNotFinite, name, i, j, v)
			}
		}
		data = append(data, row...)
	}
	return mat.NewDense(r, c, data), nil
}

// pseudoInverse returns the Moore-Penrose pseudo-inverse of a, discarding
// singular values below pinvRcond times the largest one.
func pseudoInverse(a mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("%w: SVD of projection matrix failed", ErrSingular)
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cutoff := pinvRcond * s[0]
	inv := mat.NewDiagDense(len(s), nil)
	for i, sv := range s {
		if sv > cutoff {
			inv.SetDiag(i, 1/sv)
		}
	}

	var vs mat.Dense
	vs.Mul(&v, inv)
	rows, cols := a.Dims()
	out := mat.NewDense(cols, rows, nil)
	out.Mul(&vs, u.T())
	return out, nil
}

// K returns a copy of the intrinsic matrix.
func (c *Camera) K() *mat.Dense { return mat.DenseCopyOf(c.k) }

// R returns a copy of the rotation matrix.
func (c *Camera) R() *mat.Dense { return mat.DenseCopyOf(c.r) }

// T returns a copy of the translation vector.
func (c *Camera) T() *mat.VecDense { return mat.VecDenseCopyOf(c.t) }

// P returns a copy of the 3x4 projection matrix K[R|T].
func (c *Camera) P() *mat.Dense { return mat.DenseCopyOf(c.p) }

// ProjectionPinv returns a copy of the 4x3 pseudo-inverse of P.
func (c *Camera) ProjectionPinv() *mat.Dense { return mat.DenseCopyOf(c.pinv) }

// Position returns the camera centre in world coordinates, -R^T T.
func (c *Camera) Position() [3]float64 { return c.position }

// BackProject returns the homogeneous world point pinv(P) (u, v, 1).
func (c *Camera) BackProject(u, v float64) [4]float64 {
	var out [4]float64
	for i := 0; i < 4; i++ {
		out[i] = c.pinv.At(i, 0)*u + c.pinv.At(i, 1)*v + c.pinv.At(i, 2)
	}
	return out
}
