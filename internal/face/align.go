package face

import (
	"fmt"
	"math"

	"github.com/dudu/facesampler/internal/imagelib"
)

// TransformMatrix maps a face from its source image into a size x size
// crop at the requested framing.
func TransformMatrix(landmarks Landmarks, size int, t Type) (imagelib.Affine, error) {
	if !landmarks.Valid() {
		return imagelib.Affine{}, fmt.Errorf("expected %d landmarks, got %d", NumLandmarks, len(landmarks))
	}

	unit := alignToMeanFace(landmarks[BrowLeftStart:])
	out := float64(size)

	var padding float64
	switch t {
	case Half:
		padding = 0
	case Full, FullNoAlign:
		padding = out / 64 * 12
	case Head:
		padding = out / 64 * 24
	case Avatar:
		return avatarMatrix(landmarks, unit, out), nil
	default:
		return imagelib.Affine{}, fmt.Errorf("face type %s has no alignment", t)
	}

	mat := unit
	k := out - 2*padding
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			mat[r][c] *= k
		}
		mat[r][2] += padding
	}

	if t == FullNoAlign {
		mat = dropRotation(mat, out)
	}
	return mat, nil
}

// alignToMeanFace fits the closed form 2D similarity that best maps the
// inner landmarks onto the unit mean face.
func alignToMeanFace(src []Point) imagelib.Affine {
	n := min(len(src), len(meanFaceX))

	var sx, sy, dx, dy float64
	for i := 0; i < n; i++ {
		sx += float64(src[i].X)
		sy += float64(src[i].Y)
		dx += float64(meanFaceX[i])
		dy += float64(meanFaceY[i])
	}
	sx /= float64(n)
	sy /= float64(n)
	dx /= float64(n)
	dy /= float64(n)

	// Cross terms of centered source against centered destination
	var a, b, variance float64
	for i := 0; i < n; i++ {
		px := float64(src[i].X) - sx
		py := float64(src[i].Y) - sy
		qx := float64(meanFaceX[i]) - dx
		qy := float64(meanFaceY[i]) - dy

		a += px*qx + py*qy
		b += px*qy - py*qx
		variance += px*px + py*py
	}
	if variance < 1e-12 {
		variance = 1
	}

	c := a / variance
	s := b / variance

	return imagelib.Affine{
		{c, -s, dx - (c*sx - s*sy)},
		{s, c, dy - (s*sx + c*sy)},
	}
}

// avatarMatrix centers the crop on the landmark centroid and sizes it
// from the alignment scale.
func avatarMatrix(landmarks Landmarks, unit imagelib.Affine, out float64) imagelib.Affine {
	centroid := landmarks.Centroid()
	k := unit.Scale() * (out / 3)
	return imagelib.Affine{
		{k, 0, -float64(centroid.X)*k + out/2},
		{0, k, -float64(centroid.Y)*k + out/2},
	}
}

// dropRotation keeps the scale and center of a full crop but axis aligns it
func dropRotation(mat imagelib.Affine, out float64) imagelib.Affine {
	inv, ok := mat.Invert()
	if !ok {
		return mat
	}
	cx, cy := inv.Apply(out/2, out/2)
	k := math.Max(mat.Scale(), 1e-12)
	return imagelib.Affine{
		{k, 0, out/2 - k*cx},
		{0, k, out/2 - k*cy},
	}
}
