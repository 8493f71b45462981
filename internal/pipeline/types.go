package pipeline

import (
	"fmt"
	"strings"

	"github.com/dudu/facesampler/internal/face"
	"github.com/dudu/facesampler/internal/imagelib"
)

// Stage selects the geometric recipe that produces a slot's base image,
// or one of the metadata outputs that skip the image path entirely.
type Stage int

const (
	StageNone Stage = iota
	StageSource
	StageWarped
	StageWarpedTransformed
	StageTransformed
	StageLandmarks
	StagePitchYawRoll
	StagePitchYawRollSigmoid

	numStages
)

var stageNames = []string{
	StageNone:                "none",
	StageSource:              "source",
	StageWarped:              "warped",
	StageWarpedTransformed:   "warped_transformed",
	StageTransformed:         "transformed",
	StageLandmarks:           "landmarks",
	StagePitchYawRoll:        "pitch_yaw_roll",
	StagePitchYawRollSigmoid: "pitch_yaw_roll_sigmoid",
}

func (s Stage) String() string { return enumString(stageNames, int(s), "Stage") }

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(text []byte) error {
	v, err := parseEnum(stageNames, string(text), "stage")
	*s = Stage(v)
	return err
}

// IsImage reports whether the stage goes through the image path
func (s Stage) IsImage() bool {
	return s >= StageSource && s <= StageTransformed
}

// geometry returns which warp stages run for an image stage
func (s Stage) geometry() (warp, transform, flip bool) {
	warp = s == StageWarped || s == StageWarpedTransformed
	transform = s == StageWarpedTransformed || s == StageTransformed
	flip = s != StageWarped
	return warp, transform, flip
}

// Framing is the face crop a slot asks for. FramingNone means a plain resize.
type Framing int

const (
	FramingNone Framing = iota
	FramingHalf
	FramingFull
	FramingHead
	FramingFullNoAlign
	FramingAvatar
)

var framingNames = []string{
	FramingNone:        "none",
	FramingHalf:        "half",
	FramingFull:        "full",
	FramingHead:        "head",
	FramingFullNoAlign: "full_no_align",
	FramingAvatar:      "avatar",
}

var framingTypes = []face.Type{
	FramingNone:        face.Undetermined,
	FramingHalf:        face.Half,
	FramingFull:        face.Full,
	FramingHead:        face.Head,
	FramingFullNoAlign: face.FullNoAlign,
	FramingAvatar:      face.Avatar,
}

func (f Framing) String() string { return enumString(framingNames, int(f), "Framing") }

func (f Framing) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Framing) UnmarshalText(text []byte) error {
	v, err := parseEnum(framingNames, string(text), "framing")
	*f = Framing(v)
	return err
}

// FaceType returns the stored face type this framing corresponds to
func (f Framing) FaceType() face.Type {
	if f < 0 || int(f) >= len(framingTypes) {
		return face.Undetermined
	}
	return framingTypes[f]
}

// Mode is the channel layout of an image output
type Mode int

const (
	ModeNone Mode = iota
	ModeBGR
	ModeGray
	ModeGGG
	ModeMask
	ModeBGRShuffle
)

var modeNames = []string{
	ModeNone:       "none",
	ModeBGR:        "bgr",
	ModeGray:       "g",
	ModeGGG:        "ggg",
	ModeMask:       "m",
	ModeBGRShuffle: "bgr_shuffle",
}

func (m Mode) String() string { return enumString(modeNames, int(m), "Mode") }

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(text []byte) error {
	v, err := parseEnum(modeNames, string(text), "mode")
	*m = Mode(v)
	return err
}

// ColorTransferMode selects how a slot is recolored toward a reference sample
type ColorTransferMode int

const (
	ColorTransferNone ColorTransferMode = iota
	ColorTransferLCT
	ColorTransferRCT
	ColorTransferRCTClip
	ColorTransferRCTPaper
	ColorTransferRCTPaperClip
	ColorTransferMaskedRCT
	ColorTransferMaskedRCTClip
	ColorTransferMaskedRCTPaper
	ColorTransferMaskedRCTPaperClip
)

var colorTransferNames = []string{
	ColorTransferNone:               "none",
	ColorTransferLCT:                "lct",
	ColorTransferRCT:                "rct",
	ColorTransferRCTClip:            "rct_clip",
	ColorTransferRCTPaper:           "rct_paper",
	ColorTransferRCTPaperClip:       "rct_paper_clip",
	ColorTransferMaskedRCT:          "masked_rct",
	ColorTransferMaskedRCTClip:      "masked_rct_clip",
	ColorTransferMaskedRCTPaper:     "masked_rct_paper",
	ColorTransferMaskedRCTPaperClip: "masked_rct_paper_clip",
}

func (c ColorTransferMode) String() string {
	return enumString(colorTransferNames, int(c), "ColorTransferMode")
}

func (c ColorTransferMode) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ColorTransferMode) UnmarshalText(text []byte) error {
	v, err := parseEnum(colorTransferNames, string(text), "color transfer mode")
	*c = ColorTransferMode(v)
	return err
}

// MotionBlur configures the random directional blur of a slot's base image
type MotionBlur struct {
	// Chance is the percentage probability of blurring, clamped to 0..100
	Chance int `json:"chance"`
	// Range limits the kernel size index into 3,5,7,9, clamped to 0..3
	Range int `json:"range"`
}

// SlotSpec describes one requested output. Stage is required; image stages
// also need Mode and Resolution. Every other field is off at its zero value.
type SlotSpec struct {
	Stage      Stage   `json:"stage"`
	Framing    Framing `json:"framing,omitempty"`
	Mode       Mode    `json:"mode,omitempty"`
	Resolution int     `json:"resolution,omitempty"`

	RandomSubRes    int               `json:"random_sub_res,omitempty"`
	MotionBlur      *MotionBlur       `json:"motion_blur,omitempty"`
	ColorTransfer   ColorTransferMode `json:"color_transfer,omitempty"`
	NormalizeTanh   bool              `json:"normalize_tanh,omitempty"`
	NormalizeStdDev bool              `json:"normalize_std_dev,omitempty"`
	NormalizeVGG    bool              `json:"normalize_vgg,omitempty"`
}

func (s SlotSpec) validate() error {
	if s.Stage <= StageNone || s.Stage >= numStages {
		return fmt.Errorf("%w: expected a pipeline stage, got %s", ErrConfig, s.Stage)
	}
	if !s.Stage.IsImage() {
		return nil
	}
	if s.Mode <= ModeNone || int(s.Mode) >= len(modeNames) {
		return fmt.Errorf("%w: expected a channel mode for %s slot", ErrConfig, s.Stage)
	}
	if s.Framing < FramingNone || int(s.Framing) >= len(framingNames) {
		return fmt.Errorf("%w: unknown framing %d", ErrConfig, int(s.Framing))
	}
	if s.ColorTransfer < ColorTransferNone || int(s.ColorTransfer) >= len(colorTransferNames) {
		return fmt.Errorf("%w: unknown color transfer mode %d", ErrConfig, int(s.ColorTransfer))
	}
	if s.Resolution <= 0 {
		return fmt.Errorf("%w: resolution must be positive, got %d", ErrConfig, s.Resolution)
	}
	if s.RandomSubRes < 0 || s.RandomSubRes >= s.Resolution {
		return fmt.Errorf("%w: random sub resolution %d out of range for resolution %d", ErrConfig, s.RandomSubRes, s.Resolution)
	}
	return nil
}

// SampleOptions holds the per-sample augmentation ranges
type SampleOptions struct {
	RandomFlip     bool           `json:"random_flip"`
	RotationRange  imagelib.Range `json:"rotation_range"`
	ScaleRange     imagelib.Range `json:"scale_range"`
	TXRange        imagelib.Range `json:"tx_range"`
	TYRange        imagelib.Range `json:"ty_range"`
	ExtendForehead bool           `json:"extend_forehead"`
}

// DefaultSampleOptions returns the standard training augmentation
func DefaultSampleOptions() SampleOptions {
	return SampleOptions{
		RandomFlip:    true,
		RotationRange: imagelib.Range{-10, 10},
		ScaleRange:    imagelib.Range{-0.05, 0.05},
		TXRange:       imagelib.Range{-0.05, 0.05},
		TYRange:       imagelib.Range{-0.05, 0.05},
	}
}

func (o SampleOptions) warpRanges() imagelib.WarpRanges {
	return imagelib.WarpRanges{
		Rotation: o.RotationRange,
		Scale:    o.ScaleRange,
		TX:       o.TXRange,
		TY:       o.TYRange,
	}
}

// Kind tells what an Output holds
type Kind int

const (
	KindImage Kind = iota
	KindLandmarks
	KindPose
)

// Output is one slot result in plain Go memory.
// Images are HWC, landmarks are Nx2 and poses are [3].
type Output struct {
	Kind  Kind
	Shape []int
	Data  []float32
}

// Channels returns the trailing dimension of an image output
func (o Output) Channels() int {
	if o.Kind != KindImage || len(o.Shape) != 3 {
		return 0
	}
	return o.Shape[2]
}

func enumString(names []string, v int, typ string) string {
	if v >= 0 && v < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%s(%d)", typ, v)
}

func parseEnum(names []string, s, what string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", what, s)
}
