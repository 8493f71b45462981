// Package ui renders pipeline outputs for people: PNG tiles, contact
// sheets and an interactive preview window.
package ui

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/disintegration/imaging"

	"github.com/dudu/facesampler/internal/pipeline"
)

const sheetGap = 4

var sheetBackground = color.NRGBA{R: 24, G: 24, B: 24, A: 255}

// vggMeans undoes VGG normalization for display, BGR on the 0..255 scale
var vggMeans = [3]float32{103.939, 116.779, 123.68}

// Tile converts one image output into a displayable picture. BGR becomes
// RGB, a trailing mask channel becomes alpha, and the slot's normalization
// is undone so values land back in [0,1].
func Tile(o pipeline.Output, slot pipeline.SlotSpec) (*image.NRGBA, error) {
	if o.Kind != pipeline.KindImage || len(o.Shape) != 3 {
		return nil, fmt.Errorf("output is not an image")
	}
	h, w, ch := o.Shape[0], o.Shape[1], o.Shape[2]
	if len(o.Data) != h*w*ch {
		return nil, fmt.Errorf("output data length %d does not match shape %v", len(o.Data), o.Shape)
	}

	display := denormalize(o.Data, ch, slot)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < h*w; i++ {
		px := display[i*ch : i*ch+ch]
		var r, g, b, a float32
		switch ch {
		case 1:
			r, g, b, a = px[0], px[0], px[0], 1
		case 2:
			r, g, b, a = px[0], px[0], px[0], px[1]
		case 3:
			b, g, r, a = px[0], px[1], px[2], 1
		case 4:
			b, g, r, a = px[0], px[1], px[2], px[3]
		default:
			return nil, fmt.Errorf("cannot display %d channels", ch)
		}
		j := i * 4
		img.Pix[j] = toByte(r)
		img.Pix[j+1] = toByte(g)
		img.Pix[j+2] = toByte(b)
		img.Pix[j+3] = toByte(a)
	}
	return img, nil
}

func denormalize(data []float32, ch int, slot pipeline.SlotSpec) []float32 {
	out := make([]float32, len(data))
	copy(out, data)

	switch {
	case slot.NormalizeStdDev:
		lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
		for _, v := range out {
			lo, hi = min(lo, v), max(hi, v)
		}
		span := hi - lo
		if span <= 0 {
			span = 1
		}
		for i, v := range out {
			out[i] = (v - lo) / span
		}
	case slot.NormalizeVGG && ch >= 3:
		for i, v := range out {
			if c := i % ch; c < 3 {
				out[i] = (v + vggMeans[c]) / 255
			}
		}
	case slot.NormalizeTanh:
		for i, v := range out {
			out[i] = (v + 1) / 2
		}
	}
	return out
}

func toByte(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
}

// Sheet lays the non-nil tiles out left to right at a common height
func Sheet(tiles []*image.NRGBA) *image.NRGBA {
	tiles = slices.DeleteFunc(slices.Clone(tiles), func(t *image.NRGBA) bool { return t == nil })
	height := 0
	for _, t := range tiles {
		height = max(height, t.Bounds().Dy())
	}
	if height == 0 {
		return imaging.New(1, 1, sheetBackground)
	}

	scaled := make([]*image.NRGBA, len(tiles))
	width := sheetGap
	for i, t := range tiles {
		if t.Bounds().Dy() != height {
			t = imaging.Resize(t, 0, height, imaging.NearestNeighbor)
		}
		scaled[i] = t
		width += t.Bounds().Dx() + sheetGap
	}

	sheet := imaging.New(width, height+2*sheetGap, sheetBackground)
	x := sheetGap
	for _, t := range scaled {
		sheet = imaging.Overlay(sheet, t, image.Pt(x, sheetGap), 1)
		x += t.Bounds().Dx() + sheetGap
	}
	return sheet
}

// Render builds one tile per output and the sheet joining them. Landmark
// and pose outputs get a nil tile. Debug outputs skip the tanh mapping.
func Render(outputs []pipeline.Output, slots []pipeline.SlotSpec, debug bool) ([]*image.NRGBA, *image.NRGBA, error) {
	if len(outputs) != len(slots) {
		return nil, nil, fmt.Errorf("%d outputs for %d slots", len(outputs), len(slots))
	}
	tiles := make([]*image.NRGBA, len(outputs))
	for i, o := range outputs {
		if o.Kind != pipeline.KindImage {
			continue
		}
		slot := slots[i]
		if debug {
			slot.NormalizeTanh = false
		}
		t, err := Tile(o, slot)
		if err != nil {
			return nil, nil, fmt.Errorf("slot %d: %w", i, err)
		}
		tiles[i] = t
	}
	return tiles, Sheet(tiles), nil
}
