package geometry

// Undistort removes lens distortion from pixel (u, v) and returns the
// corresponding ideal pixel under the same intrinsic matrix.
//
// The distortion model has no closed-form inverse. The normalised point is
// refined by fixed-point iteration, stopping early (and keeping the
// distorted point) if the radial factor turns negative.
func (c *Camera) Undistort(u, v float64) (float64, float64) {
	y0 := (v - c.cy) / c.fy
	x0 := (u - c.cx - c.skew*y0) / c.fx
	x, y := x0, y0

	for i := 0; i < c.iterations; i++ {
		r2 := x*x + y*y
		icdist := 1 / (1 + ((c.k3*r2+c.k2)*r2+c.k1)*r2)
		if icdist < 0 {
			x, y = x0, y0
			break
		}
		deltaX := 2*c.p1*x*y + c.p2*(r2+2*x*x)
		deltaY := c.p1*(r2+2*y*y) + 2*c.p2*x*y
		x = (x0 - deltaX) * icdist
		y = (y0 - deltaY) * icdist
	}

	return c.fx*x + c.skew*y + c.cx, c.fy*y + c.cy
}

// Project maps a world point to distorted pixel coordinates. It reports
// false when the point is not in front of the camera.
func (c *Camera) Project(world [3]float64) (u, v float64, ok bool) {
	var pc [3]float64
	for i := 0; i < 3; i++ {
		pc[i] = c.r.At(i, 0)*world[0] + c.r.At(i, 1)*world[1] + c.r.At(i, 2)*world[2] + c.t.AtVec(i)
	}
	if pc[2] <= 0 {
		return 0, 0, false
	}
	x := pc[0] / pc[2]
	y := pc[1] / pc[2]

	r2 := x*x + y*y
	radial := 1 + ((c.k3*r2+c.k2)*r2+c.k1)*r2
	xd := x*radial + 2*c.p1*x*y + c.p2*(r2+2*x*x)
	yd := y*radial + c.p1*(r2+2*y*y) + 2*c.p2*x*y

	return c.fx*xd + c.skew*yd + c.cx, c.fy*yd + c.cy, true
}
