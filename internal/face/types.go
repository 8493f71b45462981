package face

import (
	"encoding/json"
	"fmt"
	"image"
	"strings"
)

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// ImagePoint rounds the point to integer pixel coordinates
func (p Point) ImagePoint() image.Point {
	return image.Pt(int(p.X+0.5), int(p.Y+0.5))
}

// BoundingBox represents an axis aligned box
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Center returns box center point
func (b BoundingBox) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Landmarks is an ordered 68-point face landmark set in source pixel coordinates
type Landmarks []Point

// NumLandmarks is the size of a complete landmark set
const NumLandmarks = 68

// Landmark index ranges of the 68-point layout
const (
	JawStart      = 0
	BrowLeftStart = 17
	BrowRightEnd  = 27
	NoseStart     = 27
	NoseEnd       = 36
	EyeLeftStart  = 36
	EyeRightStart = 42
	EyeRightEnd   = 48
	MouthStart    = 48
)

// Valid reports whether the set carries the full 68-point layout
func (l Landmarks) Valid() bool {
	return len(l) == NumLandmarks
}

// Clone returns an independent copy
func (l Landmarks) Clone() Landmarks {
	if l == nil {
		return nil
	}
	out := make(Landmarks, len(l))
	copy(out, l)
	return out
}

// Centroid returns the mean of all points
func (l Landmarks) Centroid() Point {
	var c Point
	if len(l) == 0 {
		return c
	}
	for _, p := range l {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= float32(len(l))
	c.Y /= float32(len(l))
	return c
}

// BoundingBox computes tight bounding box around all points
func (l Landmarks) BoundingBox() BoundingBox {
	if len(l) == 0 {
		return BoundingBox{}
	}
	minX, minY := l[0].X, l[0].Y
	maxX, maxY := l[0].X, l[0].Y
	for _, p := range l[1:] {
		minX = min(minX, p.X)
		maxX = max(maxX, p.X)
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}
	return BoundingBox{X1: minX, Y1: minY, X2: maxX, Y2: maxY}
}

// MarshalJSON encodes landmarks as [[x,y],...]
func (l Landmarks) MarshalJSON() ([]byte, error) {
	pairs := make([][2]float32, len(l))
	for i, p := range l {
		pairs[i] = [2]float32{p.X, p.Y}
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON decodes landmarks from [[x,y],...]
func (l *Landmarks) UnmarshalJSON(data []byte) error {
	var pairs [][2]float32
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	if pairs == nil {
		*l = nil
		return nil
	}
	out := make(Landmarks, len(pairs))
	for i, p := range pairs {
		out[i] = Point{X: p[0], Y: p[1]}
	}
	*l = out
	return nil
}

// Type is the framing a face image was extracted at.
// Values are ordered by how much of the head they include, so a sample
// stored at type A can be re-extracted at any type B <= A.
type Type int

const (
	Undetermined Type = -1
	Half         Type = 0
	Full         Type = 1
	Head         Type = 2
	FullNoAlign  Type = 3
	Avatar       Type = 4
	MarkOnly     Type = 10
)

var typeNames = map[Type]string{
	Undetermined: "undetermined",
	Half:         "half",
	Full:         "full",
	Head:         "head",
	FullNoAlign:  "full_no_align",
	Avatar:       "avatar",
	MarkOnly:     "mark_only",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Known reports whether t is one of the defined framings
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Covers reports whether a sample stored at t can be re-extracted at want
func (t Type) Covers(want Type) bool {
	if t == Undetermined || !t.Known() {
		return false
	}
	return want <= t
}

// ParseType parses a framing name as written in sample metadata
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return Undetermined, nil
	}
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return Undetermined, fmt.Errorf("unknown face type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Pose holds head orientation angles normalized to [-1,1]
type Pose struct {
	Pitch, Yaw, Roll float32
}
