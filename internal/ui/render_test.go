package ui

import (
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dudu/facesampler/internal/pipeline"
)

func image2x1(ch int, px ...float32) pipeline.Output {
	return pipeline.Output{Kind: pipeline.KindImage, Shape: []int{1, 2, ch}, Data: px}
}

func TestTileChannelLayouts(t *testing.T) {
	tests := []struct {
		name string
		out  pipeline.Output
		slot pipeline.SlotSpec
		want color.NRGBA
	}{
		{"bgr", image2x1(3, 0, 0.5, 1, 0, 0, 0), pipeline.SlotSpec{}, color.NRGBA{R: 255, G: 128, B: 0, A: 255}},
		{"mask", image2x1(1, 1, 0), pipeline.SlotSpec{}, color.NRGBA{R: 255, G: 255, B: 255, A: 255}},
		{"gray+mask", image2x1(2, 0.2, 0, 0, 0), pipeline.SlotSpec{}, color.NRGBA{R: 51, G: 51, B: 51, A: 0}},
		{"bgr+mask", image2x1(4, 1, 0, 0, 1, 0, 0, 0, 0), pipeline.SlotSpec{}, color.NRGBA{B: 255, A: 255}},
		{"tanh", image2x1(1, -1, 1), pipeline.SlotSpec{NormalizeTanh: true}, color.NRGBA{A: 255}},
		{"stddev", image2x1(1, -3, 5), pipeline.SlotSpec{NormalizeStdDev: true}, color.NRGBA{A: 255}},
		{"vgg", image2x1(3, -103.939, -116.779, 255-123.68, 0, 0, 0), pipeline.SlotSpec{NormalizeVGG: true}, color.NRGBA{R: 255, A: 255}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			img, err := Tile(tc.out, tc.slot)
			if err != nil {
				t.Fatalf("Tile() error = %v", err)
			}
			if diff := cmp.Diff(tc.want, img.NRGBAAt(0, 0)); diff != "" {
				t.Fatalf("pixel mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTileErrors(t *testing.T) {
	if _, err := Tile(pipeline.Output{Kind: pipeline.KindPose, Shape: []int{3}}, pipeline.SlotSpec{}); err == nil {
		t.Fatal("expected error for pose output")
	}
	if _, err := Tile(image2x1(3, 1, 2), pipeline.SlotSpec{}); err == nil {
		t.Fatal("expected error for short data")
	}
}

func TestRenderSheet(t *testing.T) {
	outputs := []pipeline.Output{
		{Kind: pipeline.KindImage, Shape: []int{8, 8, 3}, Data: make([]float32, 8*8*3)},
		{Kind: pipeline.KindPose, Shape: []int{3}, Data: []float32{0, 0, 0}},
		{Kind: pipeline.KindImage, Shape: []int{4, 4, 1}, Data: make([]float32, 16)},
	}
	slots := make([]pipeline.SlotSpec, len(outputs))

	tiles, sheet, err := Render(outputs, slots, true)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if tiles[1] != nil || tiles[0] == nil || tiles[2] == nil {
		t.Fatal("expected tiles for image outputs only")
	}
	// Both tiles scaled to height 8, plus three gaps
	if w, h := sheet.Bounds().Dx(), sheet.Bounds().Dy(); w != 8+8+3*sheetGap || h != 8+2*sheetGap {
		t.Fatalf("sheet is %dx%d", w, h)
	}

	if _, _, err := Render(outputs, slots[:1], false); err == nil {
		t.Fatal("expected error for mismatched slots")
	}
}
