package imagelib

import (
	"fmt"
	"image"
	"math/rand/v2"

	"gocv.io/x/gocv"
)

// Range is a closed [lo, hi] interval for uniform draws
type Range [2]float64

func (r Range) draw(rng *rand.Rand) float64 {
	return r[0] + rng.Float64()*(r[1]-r[0])
}

// WarpRanges bounds the random geometric augmentation
type WarpRanges struct {
	Rotation Range // degrees
	Scale    Range // added to 1
	TX, TY   Range // fraction of the image size
}

// WarpParams is one random geometric augmentation for a square image.
// It is immutable after GenWarpParams and owns the remap grids.
type WarpParams struct {
	Size      int
	Flip      bool
	Rotation  float64
	Scale     float64
	TX, TY    float64
	CellSize  int
	Transform Affine

	mapX gocv.Mat
	mapY gocv.Mat
}

// GenWarpParams draws rotation, scale, translation, an optional horizontal
// flip, and a random elastic grid for a size x size image.
func GenWarpParams(rows, cols int, flip bool, r WarpRanges, rng *rand.Rand) (*WarpParams, error) {
	if rows != cols {
		return nil, fmt.Errorf("%w: %dx%d", ErrNotSquare, cols, rows)
	}
	w := cols
	if w < 8 {
		return nil, fmt.Errorf("image size %d too small to warp", w)
	}

	p := &WarpParams{
		Size:     w,
		Rotation: r.Rotation.draw(rng),
		Scale:    1 + r.Scale.draw(rng),
		TX:       r.TX.draw(rng),
		TY:       r.TY.draw(rng),
	}
	p.Flip = flip && rng.IntN(10) < 4

	cells := [3]int{w / 2, w / 4, w / 8}
	p.CellSize = cells[rng.IntN(3)]

	var err error
	p.mapX, p.mapY, err = elasticGrid(w, p.CellSize, rng)
	if err != nil {
		return nil, err
	}

	p.Transform = RotationAffine(float64(w/2), float64(w/2), p.Rotation, p.Scale)
	p.Transform[0][2] += p.TX * float64(w)
	p.Transform[1][2] += p.TY * float64(w)
	return p, nil
}

// elasticGrid builds per-pixel remap coordinates from a coarse grid whose
// interior nodes are jittered by a normal draw.
func elasticGrid(w, cell int, rng *rand.Rand) (gocv.Mat, gocv.Mat, error) {
	count := w/cell + 1
	step := float64(w) / float64(count-1)
	sigma := float64(cell) * 0.24

	gx := make([]float32, count*count)
	gy := make([]float32, count*count)
	for y := 0; y < count; y++ {
		for x := 0; x < count; x++ {
			gx[y*count+x] = float32(float64(x) * step)
			gy[y*count+x] = float32(float64(y) * step)
		}
	}
	for _, grid := range [][]float32{gx, gy} {
		for y := 1; y < count-1; y++ {
			for x := 1; x < count-1; x++ {
				grid[y*count+x] += float32(rng.NormFloat64() * sigma)
			}
		}
	}

	half := cell / 2
	upsample := func(grid []float32) (gocv.Mat, error) {
		coarse, err := FromFloats(count, count, 1, grid)
		if err != nil {
			return gocv.Mat{}, err
		}
		defer coarse.Close()

		fine := gocv.NewMat()
		defer fine.Close()
		gocv.Resize(coarse, &fine, image.Pt(w+cell, w+cell), 0, 0, gocv.InterpolationLinear)
		return Crop(fine, image.Rect(half, half, half+w, half+w)), nil
	}

	mapX, err := upsample(gx)
	if err != nil {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("failed to build warp grid: %w", err)
	}
	mapY, err := upsample(gy)
	if err != nil {
		mapX.Close()
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("failed to build warp grid: %w", err)
	}
	return mapX, mapY, nil
}

// Apply runs the enabled stages on img: elastic remap, then the random
// affine, then the horizontal flip when the params drew one. Images use a
// replicated border and masks a zero border. With every stage off the
// result is an exact copy.
func (p *WarpParams) Apply(img gocv.Mat, warp, transform, flip, isImage bool) gocv.Mat {
	out := img.Clone()

	if warp {
		dst := gocv.NewMat()
		gocv.Remap(out, &dst, &p.mapX, &p.mapY, gocv.InterpolationCubic, gocv.BorderConstant, color0)
		out.Close()
		out = dst
	}

	if transform {
		border := gocv.BorderConstant
		if isImage {
			border = gocv.BorderReplicate
		}
		dst := WarpAffine(out, p.Transform, image.Pt(p.Size, p.Size), border)
		out.Close()
		out = dst
	}

	if flip && p.Flip {
		dst := gocv.NewMat()
		gocv.Flip(out, &dst, 1)
		out.Close()
		out = dst
	}
	return out
}

// Close releases the remap grids
func (p *WarpParams) Close() {
	p.mapX.Close()
	p.mapY.Close()
}
