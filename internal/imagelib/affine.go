package imagelib

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Affine is a 2x3 forward transform in pixel coordinates
type Affine [2][3]float64

// RotationAffine builds the rotation about (cx, cy) that OpenCV's
// getRotationMatrix2D produces: positive angles rotate counter-clockwise.
func RotationAffine(cx, cy, angleDeg, scale float64) Affine {
	rad := angleDeg * math.Pi / 180
	alpha := scale * math.Cos(rad)
	beta := scale * math.Sin(rad)
	return Affine{
		{alpha, beta, (1-alpha)*cx - beta*cy},
		{-beta, alpha, beta*cx + (1-alpha)*cy},
	}
}

// Apply maps a point through the transform
func (a Affine) Apply(x, y float64) (float64, float64) {
	return a[0][0]*x + a[0][1]*y + a[0][2],
		a[1][0]*x + a[1][1]*y + a[1][2]
}

// Scale returns the isotropic scale of the linear part
func (a Affine) Scale() float64 {
	return math.Sqrt(a[0][0]*a[0][0] + a[1][0]*a[1][0])
}

// Invert returns the inverse transform; ok is false for singular input
func (a Affine) Invert() (inv Affine, ok bool) {
	det := a[0][0]*a[1][1] - a[0][1]*a[1][0]
	if math.Abs(det) < 1e-12 {
		return Affine{}, false
	}
	i00 := a[1][1] / det
	i01 := -a[0][1] / det
	i10 := -a[1][0] / det
	i11 := a[0][0] / det
	return Affine{
		{i00, i01, -(i00*a[0][2] + i01*a[1][2])},
		{i10, i11, -(i10*a[0][2] + i11*a[1][2])},
	}, true
}

// Mat converts the transform into a 2x3 CV_64F matrix for gocv
func (a Affine) Mat() gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, a[r][c])
		}
	}
	return m
}

// WarpAffine applies the transform with cubic interpolation into a size x size output
func WarpAffine(src gocv.Mat, a Affine, size image.Point, border gocv.BorderType) gocv.Mat {
	m := a.Mat()
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, m, size, gocv.InterpolationCubic, border, color0)
	return dst
}
