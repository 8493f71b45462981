package face_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gocv.io/x/gocv"

	"github.com/dudu/facesampler/internal/face"
	"github.com/dudu/facesampler/internal/face/facetest"
	"github.com/dudu/facesampler/internal/imagelib"
)

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func rotate(l face.Landmarks, cx, cy, deg float64) face.Landmarks {
	rad := deg * math.Pi / 180
	out := l.Clone()
	for i, p := range l {
		x, y := float64(p.X)-cx, float64(p.Y)-cy
		out[i] = face.Point{
			X: float32(cx + x*math.Cos(rad) - y*math.Sin(rad)),
			Y: float32(cy + x*math.Sin(rad) + y*math.Cos(rad)),
		}
	}
	return out
}

func TestTransformMatrixMapsOntoMeanFace(t *testing.T) {
	l := facetest.Landmarks(256)
	mean := face.MeanFace()

	for _, tc := range []struct {
		t       face.Type
		padding float64
	}{
		{face.Half, 0},
		{face.Full, 12},
		{face.Head, 24},
	} {
		m, err := face.TransformMatrix(l, 64, tc.t)
		if err != nil {
			t.Fatalf("%s: TransformMatrix() error = %v", tc.t, err)
		}
		span := 64 - 2*tc.padding
		for i, want := range mean {
			p := l[face.BrowLeftStart+i]
			x, y := m.Apply(float64(p.X), float64(p.Y))
			wx := tc.padding + float64(want.X)*span
			wy := tc.padding + float64(want.Y)*span
			if !near(x, wx, 1e-3) || !near(y, wy, 1e-3) {
				t.Fatalf("%s: point %d mapped to (%.4f,%.4f), want (%.4f,%.4f)", tc.t, i, x, y, wx, wy)
			}
		}
	}
}

func TestTransformMatrixUndoesRotation(t *testing.T) {
	l := rotate(facetest.Landmarks(256), 128, 128, 20)
	m, err := face.TransformMatrix(l, 128, face.Full)
	if err != nil {
		t.Fatalf("TransformMatrix() error = %v", err)
	}
	angle := math.Atan2(m[1][0], m[0][0]) * 180 / math.Pi
	if !near(angle, -20, 1e-3) {
		t.Fatalf("alignment rotation = %.4f degrees, want -20", angle)
	}
}

func TestTransformMatrixFullNoAlignKeepsAxes(t *testing.T) {
	l := rotate(facetest.Landmarks(256), 128, 128, 15)
	full, err := face.TransformMatrix(l, 128, face.Full)
	if err != nil {
		t.Fatalf("TransformMatrix() error = %v", err)
	}
	m, err := face.TransformMatrix(l, 128, face.FullNoAlign)
	if err != nil {
		t.Fatalf("TransformMatrix() error = %v", err)
	}
	if m[0][1] != 0 || m[1][0] != 0 {
		t.Fatalf("expected no rotation, got %v", m)
	}
	if !near(m.Scale(), full.Scale(), 1e-9) {
		t.Fatalf("scale changed: %v vs %v", m.Scale(), full.Scale())
	}

	inv, _ := full.Invert()
	cx, cy := inv.Apply(64, 64)
	x, y := m.Apply(cx, cy)
	if !near(x, 64, 1e-6) || !near(y, 64, 1e-6) {
		t.Fatalf("crop center moved to (%v,%v)", x, y)
	}
}

func TestTransformMatrixAvatarCentersCentroid(t *testing.T) {
	l := facetest.Landmarks(200)
	m, err := face.TransformMatrix(l, 90, face.Avatar)
	if err != nil {
		t.Fatalf("TransformMatrix() error = %v", err)
	}
	c := l.Centroid()
	x, y := m.Apply(float64(c.X), float64(c.Y))
	if !near(x, 45, 1e-3) || !near(y, 45, 1e-3) {
		t.Fatalf("centroid mapped to (%v,%v), want (45,45)", x, y)
	}
}

func TestTransformMatrixErrors(t *testing.T) {
	if _, err := face.TransformMatrix(facetest.Landmarks(64), 64, face.MarkOnly); err == nil {
		t.Fatal("expected error for mark only framing")
	}
	if _, err := face.TransformMatrix(facetest.Landmarks(64)[:5], 64, face.Full); err == nil {
		t.Fatal("expected error for short landmark set")
	}
}

func TestTypeCovers(t *testing.T) {
	cases := []struct {
		stored, want face.Type
		ok           bool
	}{
		{face.Full, face.Half, true},
		{face.Full, face.Full, true},
		{face.Half, face.Full, false},
		{face.Half, face.Head, false},
		{face.Head, face.FullNoAlign, false},
		{face.MarkOnly, face.Avatar, true},
		{face.Undetermined, face.Half, false},
	}
	for _, tc := range cases {
		if got := tc.stored.Covers(tc.want); got != tc.ok {
			t.Fatalf("%s.Covers(%s) = %v, want %v", tc.stored, tc.want, got, tc.ok)
		}
	}
}

func TestParseType(t *testing.T) {
	for _, name := range []string{"half", "full", "head", "full_no_align", "avatar", "mark_only"} {
		ft, err := face.ParseType(name)
		if err != nil {
			t.Fatalf("ParseType(%q) error = %v", name, err)
		}
		if ft.String() != name {
			t.Fatalf("ParseType(%q) = %s", name, ft)
		}
	}
	if ft, err := face.ParseType(""); err != nil || ft != face.Undetermined {
		t.Fatalf("empty type = %s, %v", ft, err)
	}
	if _, err := face.ParseType("chin"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestLandmarksJSON(t *testing.T) {
	in := face.Landmarks{{X: 1, Y: 2}, {X: 3.5, Y: 4}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != "[[1,2],[3.5,4]]" {
		t.Fatalf("unexpected encoding %s", data)
	}
	var out face.Landmarks
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("landmarks mismatch (-want +got):\n%s", diff)
	}
}

func maskSum(t *testing.T, m gocv.Mat) float64 {
	t.Helper()
	data, err := imagelib.Floats(m)
	if err != nil {
		t.Fatalf("Floats() error = %v", err)
	}
	var sum float64
	for _, v := range data {
		sum += float64(v)
	}
	return sum
}

func TestHullMask(t *testing.T) {
	l := facetest.Landmarks(128)
	m, err := face.HullMask(128, 128, l, false)
	if err != nil {
		t.Fatalf("HullMask() error = %v", err)
	}
	defer m.Close()

	nose := l[30].ImagePoint()
	if v := m.GetFloatAt(nose.Y, nose.X); v != 1 {
		t.Fatalf("mask at nose = %v, want 1", v)
	}
	if v := m.GetFloatAt(2, 2); v != 0 {
		t.Fatalf("mask at corner = %v, want 0", v)
	}

	extended, err := face.HullMask(128, 128, l, true)
	if err != nil {
		t.Fatalf("HullMask() error = %v", err)
	}
	defer extended.Close()
	if maskSum(t, extended) <= maskSum(t, m) {
		t.Fatal("extending the forehead did not grow the mask")
	}
}

func TestIEPolysOverlay(t *testing.T) {
	m := imagelib.Zeros(32, 32, gocv.MatTypeCV32FC1)
	defer m.Close()

	polys := face.IEPolys{
		{Type: face.PolyInclude, Points: []face.Point{{X: 0, Y: 0}, {X: 31, Y: 0}, {X: 31, Y: 31}, {X: 0, Y: 31}}},
		{Type: face.PolyExclude, Points: []face.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}},
	}
	polys.Overlay(&m)

	if v := m.GetFloatAt(20, 20); v != 1 {
		t.Fatalf("included pixel = %v, want 1", v)
	}
	if v := m.GetFloatAt(5, 5); v != 0 {
		t.Fatalf("excluded pixel = %v, want 0", v)
	}
}

func TestIEPolysJSON(t *testing.T) {
	var polys face.IEPolys
	err := json.Unmarshal([]byte(`[{"type":"include","points":[[1,2],[3,4],[5,6]]},{"type":"exclude","points":[]}]`), &polys)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	want := face.IEPolys{
		{Type: face.PolyInclude, Points: []face.Point{{X: 1, Y: 2}, {X: 3, Y: 4}, {X: 5, Y: 6}}},
		{Type: face.PolyExclude, Points: []face.Point{}},
	}
	if diff := cmp.Diff(want, polys); diff != "" {
		t.Fatalf("polys mismatch (-want +got):\n%s", diff)
	}
}

func TestGeometricPoseEstimator(t *testing.T) {
	var est face.GeometricPoseEstimator
	l := facetest.Landmarks(200)

	frontal, err := est.Estimate(l)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if math.Abs(float64(frontal.Yaw)) > 0.1 || math.Abs(float64(frontal.Roll)) > 0.01 || math.Abs(float64(frontal.Pitch)) > 0.1 {
		t.Fatalf("frontal face pose = %+v", frontal)
	}

	tilted, err := est.Estimate(rotate(l, 100, 100, 30))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if !near(float64(tilted.Roll), 30.0/90.0, 1e-3) {
		t.Fatalf("roll = %v, want %v", tilted.Roll, 30.0/90.0)
	}

	turned := l.Clone()
	turned[30].X += 30
	right, err := est.Estimate(turned)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	turned[30].X -= 60
	left, err := est.Estimate(turned)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if right.Yaw <= 0 || left.Yaw >= 0 {
		t.Fatalf("yaw did not follow the nose: right=%v left=%v", right.Yaw, left.Yaw)
	}
}
