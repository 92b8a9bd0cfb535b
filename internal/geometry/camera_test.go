package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var testIntrinsics = Intrinsics{Fx: 800, Fy: 800, Cx: 640, Cy: 400}

func lookAtOrigin(t *testing.T, eye [3]float64, dist []float64) Calibration {
	t.Helper()
	c, err := LookAt(testIntrinsics, dist, eye, [3]float64{}, [3]float64{0, 0, 1})
	require.NoError(t, err)
	return c
}

func TestLookAtMatchesHandBuiltRotation(t *testing.T) {
	c := lookAtOrigin(t, [3]float64{1, 0, 0}, nil)

	wantR := [][]float64{{0, 1, 0}, {0, 0, -1}, {-1, 0, 0}}
	for i := range wantR {
		assert.InDeltaSlice(t, wantR[i], c.RotationMatrix[i], 1e-12, "row %d", i)
	}
	assert.Equal(t, [][]float64{{0}, {0}, {1}}, c.TranslationVector)

	_, err := LookAt(testIntrinsics, nil, [3]float64{0, 0, 2}, [3]float64{}, [3]float64{0, 0, 1})
	assert.ErrorIs(t, err, ErrDegenerateView)
	_, err = LookAt(testIntrinsics, nil, [3]float64{}, [3]float64{}, [3]float64{0, 0, 1})
	assert.ErrorIs(t, err, ErrDegenerateView)
}

func TestNewCameraDerivedQuantities(t *testing.T) {
	cam, err := NewCamera(lookAtOrigin(t, [3]float64{1, 0, 0}, nil))
	require.NoError(t, err)

	pos := cam.Position()
	assert.InDeltaSlice(t, []float64{1, 0, 0}, pos[:], 1e-12)

	// P * pinv(P) is the 3x3 identity for a full-rank projection.
	var id mat.Dense
	id.Mul(cam.P(), cam.ProjectionPinv())
	assert.True(t, mat.EqualApprox(&id, mat.NewDiagDense(3, []float64{1, 1, 1}), 1e-9))

	// The principal point back-projects onto the optical axis.
	h := cam.BackProject(640, 400)
	require.NotZero(t, h[3])
	p := [3]float64{h[0]/h[3] - pos[0], h[1]/h[3] - pos[1], h[2]/h[3] - pos[2]}
	norm := math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])
	assert.InDeltaSlice(t, []float64{-1, 0, 0}, []float64{p[0] / norm, p[1] / norm, p[2] / norm}, 1e-9)

	// Accessors return copies.
	k := cam.K()
	k.Set(0, 0, 1)
	assert.Equal(t, 800.0, cam.K().At(0, 0))
}

func TestNewCameraValidation(t *testing.T) {
	good := lookAtOrigin(t, [3]float64{1, 0, 0}, nil)

	tests := []struct {
		name    string
		mutate  func(c *Calibration)
		wantErr error
	}{
		{
			name:    "short camera matrix",
			mutate:  func(c *Calibration) { c.CameraMatrix = c.CameraMatrix[:2] },
			wantErr: ErrInvalidShape,
		},
		{
			name:    "four distortion coefficients",
			mutate:  func(c *Calibration) { c.DistortionCoefficients = [][]float64{{0, 0, 0, 0}} },
			wantErr: ErrInvalidShape,
		},
		{
			name:    "row translation",
			mutate:  func(c *Calibration) { c.TranslationVector = [][]float64{{0, 0, 1}} },
			wantErr: ErrInvalidShape,
		},
		{
			name:    "nan rotation",
			mutate:  func(c *Calibration) { c.RotationMatrix = [][]float64{{math.NaN(), 1, 0}, {0, 0, -1}, {-1, 0, 0}} },
			wantErr: ErrNotFinite,
		},
		{
			name:    "infinite distortion",
			mutate:  func(c *Calibration) { c.DistortionCoefficients = [][]float64{{math.Inf(1), 0, 0, 0, 0}} },
			wantErr: ErrNotFinite,
		},
		{
			name:    "zero focal length",
			mutate:  func(c *Calibration) { c.CameraMatrix = [][]float64{{0, 0, 640}, {0, 800, 400}, {0, 0, 1}} },
			wantErr: ErrSingular,
		},
		{
			name:    "rank deficient rotation",
			mutate:  func(c *Calibration) { c.RotationMatrix = [][]float64{{0, 1, 0}, {0, 1, 0}, {-1, 0, 0}} },
			wantErr: ErrSingular,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good
			tt.mutate(&c)
			_, err := NewCamera(c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestUndistort(t *testing.T) {
	t.Run("no distortion is identity", func(t *testing.T) {
		cam, err := NewCamera(lookAtOrigin(t, [3]float64{1, 0, 0}, nil))
		require.NoError(t, err)
		for _, px := range [][2]float64{{640, 400}, {0, 0}, {1279, 799}, {123.5, 456.25}} {
			u, v := cam.Undistort(px[0], px[1])
			assert.InDelta(t, px[0], u, 1e-9)
			assert.InDelta(t, px[1], v, 1e-9)
		}
	})

	t.Run("inverts the forward model", func(t *testing.T) {
		dist := []float64{-0.12, 0.03, 0.001, -0.0015, 0.002}
		distorted, err := NewCamera(lookAtOrigin(t, [3]float64{4, 0, 0}, dist))
		require.NoError(t, err)
		ideal, err := NewCamera(lookAtOrigin(t, [3]float64{4, 0, 0}, nil))
		require.NoError(t, err)

		for _, p := range [][3]float64{{0, 0, 0}, {0, 0.5, 0.3}, {0.2, -0.6, -0.4}, {-1, 0.8, 0.5}} {
			du, dv, ok := distorted.Project(p)
			require.True(t, ok)
			iu, iv, ok := ideal.Project(p)
			require.True(t, ok)

			u, v := distorted.Undistort(du, dv)
			assert.InDelta(t, iu, u, 1e-3, "u for %v", p)
			assert.InDelta(t, iv, v, 1e-3, "v for %v", p)
		}
	})

	t.Run("negative radial factor keeps the input", func(t *testing.T) {
		cam, err := NewCamera(lookAtOrigin(t, [3]float64{1, 0, 0}, []float64{-10, 0, 0, 0, 0}))
		require.NoError(t, err)
		// One focal length from the centre: r^2 = 1 and 1 + k1 < 0.
		u, v := cam.Undistort(640+800, 400)
		assert.Equal(t, 1440.0, u)
		assert.Equal(t, 400.0, v)
	})

	t.Run("iteration count is configurable", func(t *testing.T) {
		dist := []float64{-0.3, 0.1, 0, 0, 0}
		one, err := NewCamera(lookAtOrigin(t, [3]float64{1, 0, 0}, dist), WithUndistortIterations(1))
		require.NoError(t, err)
		many, err := NewCamera(lookAtOrigin(t, [3]float64{1, 0, 0}, dist), WithUndistortIterations(20))
		require.NoError(t, err)

		u1, _ := one.Undistort(1100, 700)
		u20, _ := many.Undistort(1100, 700)
		assert.NotEqual(t, u1, u20)
	})
}

func TestProjectBehindCamera(t *testing.T) {
	cam, err := NewCamera(lookAtOrigin(t, [3]float64{1, 0, 0}, nil))
	require.NoError(t, err)
	_, _, ok := cam.Project([3]float64{2, 0, 0})
	assert.False(t, ok)

	u, v, ok := cam.Project([3]float64{0, 0, 0})
	require.True(t, ok)
	assert.InDelta(t, 640, u, 1e-9)
	assert.InDelta(t, 400, v, 1e-9)
}
