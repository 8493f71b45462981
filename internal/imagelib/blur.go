package imagelib

import (
	"image"

	"gocv.io/x/gocv"
)

// MotionBlurKernels are the kernel sizes a motion blur may pick from
var MotionBlurKernels = [4]int{3, 5, 7, 9}

// LinearMotionBlur smears img along a line of length size at angle degrees
func LinearMotionBlur(img gocv.Mat, size int, angle float64) gocv.Mat {
	line := Zeros(size, size, gocv.MatTypeCV32FC1)
	defer line.Close()
	mid := (size - 1) / 2
	for x := 0; x < size; x++ {
		line.SetFloatAt(mid, x, 1)
	}

	c := float64(size)/2 - 0.5
	kernel := WarpAffineLinear(line, RotationAffine(c, c, angle, 1), image.Pt(size, size))
	defer kernel.Close()

	if sum := kernel.Sum().Val1; sum > 0 {
		kernel.DivideFloat(float32(sum))
	}

	dst := gocv.NewMat()
	gocv.Filter2D(img, &dst, gocv.MatTypeCV32F, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
	return dst
}

// WarpAffineLinear applies a transform with bilinear interpolation and a zero border
func WarpAffineLinear(src gocv.Mat, a Affine, size image.Point) gocv.Mat {
	m := a.Mat()
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, m, size, gocv.InterpolationLinear, gocv.BorderConstant, color0)
	return dst
}
