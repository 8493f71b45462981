package inference

import (
	"math"
	"testing"

	"github.com/dudu/facesampler/internal/face"
	"github.com/dudu/facesampler/internal/face/facetest"
)

func TestPoseInputIsScaleInvariant(t *testing.T) {
	small, err := PoseInput(facetest.Landmarks(64))
	if err != nil {
		t.Fatalf("PoseInput() error = %v", err)
	}
	large, err := PoseInput(facetest.Landmarks(512))
	if err != nil {
		t.Fatalf("PoseInput() error = %v", err)
	}
	if len(small) != 2*face.NumLandmarks {
		t.Fatalf("input length = %d", len(small))
	}
	for i := range small {
		if math.Abs(float64(small[i]-large[i])) > 1e-5 {
			t.Fatalf("value %d differs: %v vs %v", i, small[i], large[i])
		}
		if small[i] < -0.5-1e-6 || small[i] > 0.5+1e-6 {
			t.Fatalf("value %d = %v outside unit box", i, small[i])
		}
	}
}

func TestPoseInputErrors(t *testing.T) {
	if _, err := PoseInput(facetest.Landmarks(64)[:10]); err == nil {
		t.Fatal("expected error for short landmark set")
	}
	if _, err := PoseInput(make(face.Landmarks, face.NumLandmarks)); err == nil {
		t.Fatal("expected error for collapsed landmarks")
	}
}

func TestNewSessionRequiresInitialize(t *testing.T) {
	if isInitialized() {
		t.Skip("runtime already initialized")
	}
	if _, err := NewPoseRegressor("missing.onnx", SessionOptions{}); err == nil {
		t.Fatal("expected error before Initialize")
	}
}
