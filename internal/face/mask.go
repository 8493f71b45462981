package face

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"slices"

	"gocv.io/x/gocv"

	"github.com/dudu/facesampler/internal/imagelib"
)

var (
	maskOn  = color.RGBA{R: 1, G: 1, B: 1, A: 1}
	maskOff = color.RGBA{}
)

// hullParts lists the landmark groups whose convex hulls make up the face mask
var hullParts = [][][2]int{
	{{0, 9}, {17, 18}},                     // left jaw and brow tip
	{{8, 17}, {26, 27}},                    // right jaw and brow tip
	{{17, 20}, {8, 9}},                     // left brow to chin
	{{24, 27}, {8, 9}},                     // right brow to chin
	{{19, 25}, {8, 9}},                     // mid brows to chin
	{{17, 22}, {27, 28}, {31, 36}, {8, 9}}, // left cheek
	{{22, 27}, {27, 28}, {31, 36}, {8, 9}}, // right cheek
	{{27, 36}},                             // nose
}

// HullMask rasterizes the face hull into a rows x cols CV_32FC1 mask of
// zeros and ones. extendForehead lifts the brow points so the hull covers
// part of the forehead.
func HullMask(rows, cols int, l Landmarks, extendForehead bool) (gocv.Mat, error) {
	if !l.Valid() {
		return gocv.Mat{}, fmt.Errorf("expected %d landmarks, got %d", NumLandmarks, len(l))
	}

	pts := l.Clone()
	if extendForehead {
		liftBrows(pts, 1.0)
	}

	mask := imagelib.Zeros(rows, cols, gocv.MatTypeCV32FC1)
	for _, part := range hullParts {
		var group []image.Point
		for _, r := range part {
			for i := r[0]; i < r[1]; i++ {
				group = append(group, pts[i].ImagePoint())
			}
		}
		fillConvex(&mask, convexHull(group), maskOn)
	}
	return mask, nil
}

// liftBrows pushes each brow away from the eye below it
func liftBrows(l Landmarks, amount float32) {
	mid := func(a, b Point) Point { return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2} }

	ml := mid(l[36], l[0])
	mr := mid(l[16], l[45])
	ql := mid(ml, l[36])
	qr := mid(mr, l[45])

	botL := []Point{ql, l[36], l[37], l[38], l[39]}
	botR := []Point{l[42], l[43], l[44], l[45], qr}

	for i := 0; i < 5; i++ {
		top := l[17+i]
		l[17+i] = Point{
			X: top.X + amount*0.5*(top.X-botL[i].X),
			Y: top.Y + amount*0.5*(top.Y-botL[i].Y),
		}
		top = l[22+i]
		l[22+i] = Point{
			X: top.X + amount*0.5*(top.X-botR[i].X),
			Y: top.Y + amount*0.5*(top.Y-botR[i].Y),
		}
	}
}

func fillConvex(mask *gocv.Mat, hull []image.Point, c color.RGBA) {
	if len(hull) < 3 {
		return
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{hull})
	defer pv.Close()
	gocv.FillPoly(mask, pv, c)
}

// convexHull returns the hull of pts in counter-clockwise order (monotone chain)
func convexHull(pts []image.Point) []image.Point {
	if len(pts) < 3 {
		return pts
	}
	sorted := slices.Clone(pts)
	slices.SortFunc(sorted, func(a, b image.Point) int {
		if a.X != b.X {
			return a.X - b.X
		}
		return a.Y - b.Y
	})
	sorted = slices.Compact(sorted)
	if len(sorted) < 3 {
		return sorted
	}

	cross := func(o, a, b image.Point) int {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	hull := make([]image.Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// PolyType marks a polygon as adding to or cutting from the mask
type PolyType int

const (
	PolyExclude PolyType = 0
	PolyInclude PolyType = 1
)

func (t PolyType) MarshalText() ([]byte, error) {
	if t == PolyInclude {
		return []byte("include"), nil
	}
	return []byte("exclude"), nil
}

func (t *PolyType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "include", "1":
		*t = PolyInclude
	case "exclude", "0":
		*t = PolyExclude
	default:
		return fmt.Errorf("unknown polygon type %q", text)
	}
	return nil
}

// Poly is one hand-drawn mask edit
type Poly struct {
	Type   PolyType
	Points []Point
}

type polyJSON struct {
	Type   PolyType     `json:"type"`
	Points [][2]float32 `json:"points"`
}

func (p Poly) MarshalJSON() ([]byte, error) {
	out := polyJSON{Type: p.Type, Points: make([][2]float32, len(p.Points))}
	for i, pt := range p.Points {
		out.Points[i] = [2]float32{pt.X, pt.Y}
	}
	return json.Marshal(out)
}

func (p *Poly) UnmarshalJSON(data []byte) error {
	var in polyJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.Type = in.Type
	p.Points = make([]Point, len(in.Points))
	for i, pt := range in.Points {
		p.Points[i] = Point{X: pt[0], Y: pt[1]}
	}
	return nil
}

// IEPolys is an ordered list of include/exclude polygons burned into a
// mask after it is loaded. Later polygons paint over earlier ones.
type IEPolys []Poly

// Overlay paints every polygon into mask in order
func (p IEPolys) Overlay(mask *gocv.Mat) {
	for _, poly := range p {
		if len(poly.Points) == 0 {
			continue
		}
		pts := make([]image.Point, len(poly.Points))
		for i, pt := range poly.Points {
			pts[i] = pt.ImagePoint()
		}
		c := maskOff
		if poly.Type == PolyInclude {
			c = maskOn
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
		gocv.FillPoly(mask, pv, c)
		pv.Close()
	}
}
