// Package facetest provides synthetic faces and in-memory samples for tests.
package facetest

import (
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/facesampler/internal/face"
	"github.com/dudu/facesampler/internal/imagelib"
)

// UnitLandmarks returns a frontal 68-point face in unit coordinates
func UnitLandmarks() face.Landmarks {
	l := make(face.Landmarks, 0, face.NumLandmarks)
	for i := 0; i < 17; i++ {
		theta := math.Pi * (1 - float64(i)/16)
		l = append(l, face.Point{
			X: float32(0.5 + 0.5*math.Cos(theta)),
			Y: float32(0.25 + 0.8*math.Sin(theta)),
		})
	}
	return append(l, face.MeanFace()...)
}

// Landmarks places UnitLandmarks in the middle half of a size x size image
func Landmarks(size int) face.Landmarks {
	l := UnitLandmarks()
	s := float32(size)
	for i, p := range l {
		l[i] = face.Point{X: s * (0.25 + 0.5*p.X), Y: s * (0.25 + 0.5*p.Y)}
	}
	return l
}

// Gradient returns a deterministic BGR test pattern in [0,1]
func Gradient(rows, cols int) []float32 {
	data := make([]float32, rows*cols*3)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			i := (y*cols + x) * 3
			data[i] = float32(x) / float32(cols)
			data[i+1] = float32(y) / float32(rows)
			data[i+2] = float32(x+y) / float32(rows+cols)
		}
	}
	return data
}

// Sample is an in-memory pipeline sample that counts pixel loads
type Sample struct {
	Name   string
	Size   int
	Pixels []float32
	// MaskPixels overrides the landmark hull mask when set
	MaskPixels []float32
	Marks      face.Landmarks
	Type       face.Type
	IEPolys    face.IEPolys
	StoredPose *face.Pose

	ColorLoads int
	MaskLoads  int
}

// NewFaceSample returns a size x size gradient face sample stored at t
func NewFaceSample(name string, size int, t face.Type) *Sample {
	return &Sample{
		Name:   name,
		Size:   size,
		Pixels: Gradient(size, size),
		Marks:  Landmarks(size),
		Type:   t,
	}
}

// NewPlainSample returns a sample without face metadata
func NewPlainSample(name string, size int) *Sample {
	return &Sample{
		Name:   name,
		Size:   size,
		Pixels: Gradient(size, size),
		Type:   face.Undetermined,
	}
}

func (s *Sample) Filename() string { return s.Name }

func (s *Sample) LoadColor() (gocv.Mat, error) {
	s.ColorLoads++
	return imagelib.FromFloats(s.Size, s.Size, 3, s.Pixels)
}

func (s *Sample) LoadMask(extendForehead bool) (gocv.Mat, error) {
	s.MaskLoads++
	if s.MaskPixels != nil {
		return imagelib.FromFloats(s.Size, s.Size, 1, s.MaskPixels)
	}
	return face.HullMask(s.Size, s.Size, s.Marks, extendForehead)
}

func (s *Sample) Landmarks() face.Landmarks { return s.Marks }
func (s *Sample) FaceType() face.Type { return s.Type }
func (s *Sample) Polys() face.IEPolys { return s.IEPolys }
func (s *Sample) Pose() *face.Pose { return s.StoredPose }
