// Package sample loads face samples from encoded images and their JSON
// metadata sidecars.
package sample

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/dudu/facesampler/internal/face"
)

// MaskSuffix marks an explicit mask image stored next to a sample
const MaskSuffix = "_mask"

// Landmarks and masks are stored in the frame of the encoded pixels, so
// EXIF orientation is never applied.
const (
	colorFlags = gocv.IMReadColor | gocv.IMReadIgnoreOrientation
	maskFlags  = gocv.IMReadGrayScale | gocv.IMReadIgnoreOrientation
)

// Metadata is the sidecar stored next to each sample image
type Metadata struct {
	FaceType     face.Type      `json:"face_type"`
	Landmarks    face.Landmarks `json:"landmarks,omitempty"`
	PitchYawRoll *[3]float32    `json:"pitch_yaw_roll,omitempty"`
	IEPolys      face.IEPolys   `json:"ie_polys,omitempty"`
}

// ParseMetadata decodes a sidecar. A missing face_type is Undetermined.
func ParseMetadata(data []byte) (Metadata, error) {
	meta := Metadata{FaceType: face.Undetermined}
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse sample metadata: %w", err)
	}
	if meta.Landmarks != nil && !meta.Landmarks.Valid() {
		return Metadata{}, fmt.Errorf("expected %d landmarks, got %d", face.NumLandmarks, len(meta.Landmarks))
	}
	return meta, nil
}

// FileSample is a pipeline sample backed by encoded image bytes. Pixels are
// decoded on every load, so the sample itself stays small and immutable.
type FileSample struct {
	name  string
	image []byte
	mask  []byte
	meta  Metadata
	size  image.Point
}

// Decode builds a sample from encoded image bytes. mask may be nil, in
// which case masks are rasterized from the landmarks.
func Decode(name string, img, mask []byte, meta Metadata) (*FileSample, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("sample %s: failed to read image header: %w", name, err)
	}
	return &FileSample{
		name:  name,
		image: img,
		mask:  mask,
		meta:  meta,
		size:  image.Pt(cfg.Width, cfg.Height),
	}, nil
}

// Open reads an image file along with its optional sidecar and mask
func Open(path string) (*FileSample, error) {
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample: %w", err)
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))

	meta := Metadata{FaceType: face.Undetermined}
	if data, err := os.ReadFile(base + ".json"); err == nil {
		if meta, err = ParseMetadata(data); err != nil {
			return nil, fmt.Errorf("sample %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read sample metadata: %w", err)
	}

	mask, err := os.ReadFile(base + MaskSuffix + ".png")
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read sample mask: %w", err)
	}

	return Decode(path, img, mask, meta)
}

func (s *FileSample) Filename() string { return s.name }

// Size returns the pixel dimensions of the image
func (s *FileSample) Size() image.Point { return s.size }

func (s *FileSample) FaceType() face.Type { return s.meta.FaceType }

func (s *FileSample) Landmarks() face.Landmarks { return s.meta.Landmarks }

func (s *FileSample) Polys() face.IEPolys { return s.meta.IEPolys }

func (s *FileSample) Pose() *face.Pose {
	if s.meta.PitchYawRoll == nil {
		return nil
	}
	p := s.meta.PitchYawRoll
	return &face.Pose{Pitch: p[0], Yaw: p[1], Roll: p[2]}
}

// LoadColor decodes the image as CV_32FC3 BGR in [0,1]
func (s *FileSample) LoadColor() (gocv.Mat, error) {
	raw, err := decodeColor(s.image)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("sample %s: %w", s.name, err)
	}
	defer raw.Close()
	if raw.Cols() != s.size.X || raw.Rows() != s.size.Y {
		return gocv.Mat{}, fmt.Errorf("sample %s: decoded %dx%d, header says %dx%d",
			s.name, raw.Cols(), raw.Rows(), s.size.X, s.size.Y)
	}
	return toUnitFloat(raw, gocv.MatTypeCV32FC3), nil
}

// LoadMask returns the stored mask image, or the landmark hull mask
func (s *FileSample) LoadMask(extendForehead bool) (gocv.Mat, error) {
	if s.mask != nil {
		raw, err := gocv.IMDecode(s.mask, maskFlags)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("sample %s: failed to decode mask: %w", s.name, err)
		}
		defer raw.Close()
		if raw.Empty() {
			return gocv.Mat{}, fmt.Errorf("sample %s: failed to decode mask", s.name)
		}
		if raw.Cols() != s.size.X || raw.Rows() != s.size.Y {
			return gocv.Mat{}, fmt.Errorf("sample %s: mask is %dx%d, image is %dx%d",
				s.name, raw.Cols(), raw.Rows(), s.size.X, s.size.Y)
		}
		return toUnitFloat(raw, gocv.MatTypeCV32FC1), nil
	}
	if !s.meta.Landmarks.Valid() {
		return gocv.Mat{}, fmt.Errorf("sample %s has no landmarks to build a mask from", s.name)
	}
	return face.HullMask(s.size.Y, s.size.X, s.meta.Landmarks, extendForehead)
}

func toUnitFloat(raw gocv.Mat, mt gocv.MatType) gocv.Mat {
	out := gocv.NewMat()
	raw.ConvertToWithParams(&out, mt, 1.0/255, 0)
	return out
}

// decodeColor tries OpenCV first and falls back to Go decoders for files
// OpenCV was built without support for.
func decodeColor(data []byte) (gocv.Mat, error) {
	if m, err := gocv.IMDecode(data, colorFlags); err == nil && !m.Empty() {
		return m, nil
	} else if err == nil {
		m.Close()
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		if img, err = webp.Decode(bytes.NewReader(data)); err != nil {
			return gocv.Mat{}, fmt.Errorf("unsupported image format: %w", err)
		}
	}
	return bgrMat(img)
}

// bgrMat converts an image.Image into an 8-bit BGR matrix
func bgrMat(img image.Image) (gocv.Mat, error) {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	buf := make([]byte, w*h*3)
	for i, j := 0, 0; i < len(nrgba.Pix); i, j = i+4, j+3 {
		buf[j] = nrgba.Pix[i+2]
		buf[j+1] = nrgba.Pix[i+1]
		buf[j+2] = nrgba.Pix[i]
	}
	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to build image matrix: %w", err)
	}
	// NewMatFromBytes aliases buf
	defer m.Close()
	return m.Clone(), nil
}
