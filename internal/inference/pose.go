package inference

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/facesampler/internal/face"
)

const (
	poseInputName  = "landmarks"
	poseOutputName = "pose"
)

// PoseRegressor estimates head pose with a small ONNX model that takes the
// 68 landmarks, centered on their bounding box and scaled to unit size, as
// a [1,136] input and returns pitch, yaw and roll in [-1,1] as [1,3].
type PoseRegressor struct {
	session *Session
}

func NewPoseRegressor(modelPath string, opts SessionOptions) (*PoseRegressor, error) {
	s, err := NewSession(modelPath, []string{poseInputName}, []string{poseOutputName}, opts)
	if err != nil {
		return nil, err
	}
	return &PoseRegressor{session: s}, nil
}

// Estimate runs the model on one landmark set
func (p *PoseRegressor) Estimate(l face.Landmarks) (face.Pose, error) {
	input, err := PoseInput(l)
	if err != nil {
		return face.Pose{}, err
	}

	inputTensor, err := CreateTensor([]int64{1, int64(len(input))}, input)
	if err != nil {
		return face.Pose{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := CreateEmptyTensor[float32]([]int64{1, 3})
	if err != nil {
		return face.Pose{}, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := p.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return face.Pose{}, fmt.Errorf("pose inference failed: %w", err)
	}

	out := outputTensor.GetData()
	return face.Pose{
		Pitch: clampUnit(out[0]),
		Yaw:   clampUnit(out[1]),
		Roll:  clampUnit(out[2]),
	}, nil
}

func (p *PoseRegressor) Close() error {
	return p.session.Destroy()
}

// PoseInput flattens landmarks into the model's normalized input layout
func PoseInput(l face.Landmarks) ([]float32, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("expected %d landmarks, got %d", face.NumLandmarks, len(l))
	}
	box := l.BoundingBox()
	c := box.Center()
	scale := max(box.Width(), box.Height())
	if scale <= 0 {
		return nil, fmt.Errorf("degenerate landmarks: zero extent")
	}

	out := make([]float32, 0, 2*len(l))
	for _, pt := range l {
		out = append(out, (pt.X-c.X)/scale, (pt.Y-c.Y)/scale)
	}
	return out, nil
}

func clampUnit(v float32) float32 {
	return min(max(v, -1), 1)
}
