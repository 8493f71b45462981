package face

import (
	"fmt"
	"math"
)

// Neutral nose-to-eye over chin-to-eye ratio of a frontal face
const neutralPitchRatio = 0.36

// GeometricPoseEstimator derives a rough head pose from 2D landmark geometry.
// Angles are normalized so that +-1 corresponds to a quarter turn.
type GeometricPoseEstimator struct{}

// Estimate returns pitch, yaw and roll in [-1,1]
func (GeometricPoseEstimator) Estimate(l Landmarks) (Pose, error) {
	if !l.Valid() {
		return Pose{}, fmt.Errorf("expected %d landmarks, got %d", NumLandmarks, len(l))
	}

	leftEye := mean(l[EyeLeftStart:EyeRightStart])
	rightEye := mean(l[EyeRightStart:EyeRightEnd])

	ex := float64(rightEye.X - leftEye.X)
	ey := float64(rightEye.Y - leftEye.Y)
	roll := math.Atan2(ey, ex)

	// Work in a de-rolled frame centered between the eyes
	cos, sin := math.Cos(-roll), math.Sin(-roll)
	eyeMid := Point{X: (leftEye.X + rightEye.X) / 2, Y: (leftEye.Y + rightEye.Y) / 2}
	derotate := func(p Point) (float64, float64) {
		x := float64(p.X - eyeMid.X)
		y := float64(p.Y - eyeMid.Y)
		return x*cos - y*sin, x*sin + y*cos
	}

	noseX, noseY := derotate(l[30])
	jawLX, _ := derotate(l[0])
	jawRX, _ := derotate(l[16])
	_, chinY := derotate(l[8])

	halfWidth := (jawRX - jawLX) / 2
	if halfWidth < 1e-6 {
		return Pose{}, fmt.Errorf("degenerate landmarks: zero face width")
	}
	jawMid := (jawLX + jawRX) / 2
	yaw := (noseX - jawMid) / halfWidth

	var pitch float64
	if chinY > 1e-6 {
		pitch = (neutralPitchRatio - noseY/chinY) / 0.25
	}

	return Pose{
		Pitch: clampUnit(pitch),
		Yaw:   clampUnit(yaw),
		Roll:  clampUnit(roll / (math.Pi / 2)),
	}, nil
}

func mean(pts []Point) Point {
	return Landmarks(pts).Centroid()
}

func clampUnit(v float64) float32 {
	return float32(math.Max(-1, math.Min(1, v)))
}
