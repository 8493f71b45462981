package pipeline

import (
	"gocv.io/x/gocv"

	"github.com/dudu/facesampler/internal/face"
)

// Sample is a read-only handle to one stored image and its face metadata.
// LoadColor and LoadMask return new matrices owned by the caller.
type Sample interface {
	Filename() string
	// LoadColor returns the BGR pixels as CV_32FC3 in [0,1]
	LoadColor() (gocv.Mat, error)
	// LoadMask returns the face mask as CV_32FC1 in [0,1]
	LoadMask(extendForehead bool) (gocv.Mat, error)
	// Landmarks is nil for samples without a face
	Landmarks() face.Landmarks
	FaceType() face.Type
	// Polys is nil when the sample has no mask edits
	Polys() face.IEPolys
	// Pose is nil when no pose was stored
	Pose() *face.Pose
}

// PoseEstimator derives a head pose from landmarks
type PoseEstimator interface {
	Estimate(l face.Landmarks) (face.Pose, error)
}

// Observer receives processing events for metrics
type Observer interface {
	BaseImageBuilt(stage Stage)
	BaseImageReused(stage Stage)
	SlotProcessed(spec SlotSpec)
}

type nopObserver struct{}

func (nopObserver) BaseImageBuilt(Stage) {}
func (nopObserver) BaseImageReused(Stage) {}
func (nopObserver) SlotProcessed(SlotSpec) {}
