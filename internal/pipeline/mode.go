package pipeline

import (
	"fmt"
	"math/rand/v2"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"github.com/dudu/facesampler/internal/imagelib"
)

// BGR channel means subtracted by VGG normalization, on the 0..255 scale
var vggMeans = [3]float32{103.939, 116.779, 123.68}

// normalizeColor applies the slot's standardization in place
func normalizeColor(col *gocv.Mat, slot SlotSpec) error {
	if col.Empty() || (!slot.NormalizeStdDev && !slot.NormalizeVGG) {
		return nil
	}
	data, err := imagelib.Floats(*col)
	if err != nil {
		return err
	}
	ch := col.Channels()

	switch {
	case slot.NormalizeStdDev:
		plane := make([]float64, len(data)/ch)
		for c := 0; c < ch; c++ {
			for i := range plane {
				plane[i] = float64(data[i*ch+c])
			}
			mean, std := stat.PopMeanStdDev(plane, nil)
			if std < 1e-7 {
				std = 1e-7
			}
			for i := range plane {
				data[i*ch+c] = float32((plane[i] - mean) / std)
			}
		}
	case slot.NormalizeVGG:
		for i, v := range data {
			v = min(max(v*255, 0), 255)
			data[i] = v - vggMeans[i%ch]
		}
	}

	normalized, err := imagelib.FromFloats(col.Rows(), col.Cols(), ch, data)
	if err != nil {
		return err
	}
	col.Close()
	*col = normalized
	return nil
}

// convertMode builds the slot's channel layout from the color and mask
// parts of a buffer. Mask mode on a bare mask returns it unchanged.
func (inv *invocation) convertMode(mode Mode, col, mask gocv.Mat) (gocv.Mat, error) {
	if mode == ModeMask {
		if mask.Empty() {
			return gocv.Mat{}, fmt.Errorf("%w: buffer has no mask channel", ErrConfig)
		}
		return mask.Clone(), nil
	}
	if col.Empty() {
		return gocv.Mat{}, fmt.Errorf("%s: %w", mode, errNoColor)
	}

	switch mode {
	case ModeBGR:
		return col.Clone(), nil
	case ModeBGRShuffle:
		return shuffleChannels(col, inv.shufflePerm()), nil
	case ModeGray:
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(col, &gray, gocv.ColorBGRToGray)
		return withMask([]gocv.Mat{gray}, mask), nil
	case ModeGGG:
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(col, &gray, gocv.ColorBGRToGray)
		return withMask([]gocv.Mat{gray, gray, gray}, mask), nil
	}
	return gocv.Mat{}, fmt.Errorf("%w: unknown mode %s", ErrConfig, mode)
}

// shufflePerm is derived from the invocation seed alone, so the same
// permutation comes back every time the mode recurs.
func (inv *invocation) shufflePerm() []int {
	return rand.New(rand.NewPCG(inv.subSeed, pcgStream)).Perm(3)
}

func shuffleChannels(col gocv.Mat, perm []int) gocv.Mat {
	planes := gocv.Split(col)
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()
	ordered := make([]gocv.Mat, len(perm))
	for i, p := range perm {
		ordered[i] = planes[p]
	}
	out := gocv.NewMat()
	gocv.Merge(ordered, &out)
	return out
}

func withMask(planes []gocv.Mat, mask gocv.Mat) gocv.Mat {
	if !mask.Empty() {
		planes = append(planes, mask)
	}
	if len(planes) == 1 {
		return planes[0].Clone()
	}
	out := gocv.NewMat()
	gocv.Merge(planes, &out)
	return out
}

// finalClip maps the output into [-1,1] for tanh models, else clips to [0,1]
func finalClip(m *gocv.Mat, tanh bool) error {
	if !tanh {
		return imagelib.Clip(m, 0, 1)
	}
	data, err := m.DataPtrFloat32()
	if err != nil {
		return fmt.Errorf("failed to access float data: %w", err)
	}
	for i, v := range data {
		data[i] = min(max(v*2-1, -1), 1)
	}
	return nil
}
