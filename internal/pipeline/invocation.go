package pipeline

import (
	"fmt"
	"image"
	"math/rand/v2"

	"gocv.io/x/gocv"

	"github.com/dudu/facesampler/internal/face"
	"github.com/dudu/facesampler/internal/imagelib"
)

// Stream selector mixed into every PCG seed of an invocation
const pcgStream = 0x5eed_f00d_cafe_b0a7

// invocation is the state of one Process call. It is never shared.
type invocation struct {
	p   *Processor
	req Request

	color   gocv.Mat
	isFace  bool
	width   int
	height  int
	params  *imagelib.WarpParams
	rng     *rand.Rand
	subSeed uint64

	// base images by stage; an entry is complete once present
	cache [numStages]*gocv.Mat

	refColor *gocv.Mat
	refMask  *gocv.Mat
}

func (p *Processor) newInvocation(req Request, seed uint64) (*invocation, error) {
	col, err := req.Sample.LoadColor()
	if err != nil {
		return nil, fmt.Errorf("failed to load color: %w", err)
	}
	if col.Empty() || col.Type() != gocv.MatTypeCV32FC3 {
		col.Close()
		return nil, fmt.Errorf("color buffer must be non-empty CV_32FC3")
	}

	inv := &invocation{
		p:      p,
		req:    req,
		color:  col,
		isFace: req.Sample.Landmarks() != nil,
		width:  col.Cols(),
		height: col.Rows(),
		rng:    rand.New(rand.NewPCG(seed, pcgStream)),
	}

	if req.Debug && inv.isFace {
		face.DrawLandmarks(&inv.color, req.Sample.Landmarks())
	}

	inv.params, err = imagelib.GenWarpParams(inv.height, inv.width, req.Options.RandomFlip, req.Options.warpRanges(), inv.rng)
	if err != nil {
		inv.close()
		return nil, fmt.Errorf("failed to generate warp params: %w", err)
	}
	inv.subSeed = inv.rng.Uint64N(0x80000000)
	return inv, nil
}

func (inv *invocation) close() {
	inv.color.Close()
	if inv.params != nil {
		inv.params.Close()
	}
	for _, m := range inv.cache {
		if m != nil {
			m.Close()
		}
	}
	if inv.refColor != nil {
		inv.refColor.Close()
	}
	if inv.refMask != nil {
		inv.refMask.Close()
	}
}

func (inv *invocation) process(slot SlotSpec) (Output, error) {
	switch slot.Stage {
	case StageLandmarks:
		return inv.landmarkOutput(), nil
	case StagePitchYawRoll, StagePitchYawRollSigmoid:
		return inv.poseOutput(slot.Stage == StagePitchYawRollSigmoid)
	}
	return inv.imageOutput(slot)
}

// base returns the cached base image for the slot's stage, building it on
// first use. The invocation keeps ownership of the result.
func (inv *invocation) base(slot SlotSpec) (gocv.Mat, error) {
	if m := inv.cache[slot.Stage]; m != nil {
		inv.p.observer.BaseImageReused(slot.Stage)
		inv.p.logger.Debug("reusing base image", "sample", inv.req.Sample.Filename(), "stage", slot.Stage)
		return *m, nil
	}

	img := inv.color.Clone()
	defer func() { img.Close() }()
	if inv.isFace && slot.MotionBlur != nil {
		chance := min(max(slot.MotionBlur.Chance, 0), 100)
		if inv.rng.IntN(100) < chance {
			kernels := imagelib.MotionBlurKernels[:min(max(slot.MotionBlur.Range, 0), 3)+1]
			size := kernels[inv.rng.IntN(len(kernels))]
			blurred := imagelib.LinearMotionBlur(img, size, float64(inv.rng.IntN(180)))
			img.Close()
			img = blurred
		}
	}

	mask := gocv.NewMat()
	defer func() { mask.Close() }()
	if inv.isFace {
		loaded, err := inv.req.Sample.LoadMask(inv.req.Options.ExtendForehead)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("failed to load mask: %w", err)
		}
		mask.Close()
		mask = loaded
		if err := inv.checkMask(mask); err != nil {
			return gocv.Mat{}, err
		}
		if polys := inv.req.Sample.Polys(); polys != nil {
			polys.Overlay(&mask)
		}
	}

	var built gocv.Mat
	if inv.req.Sample.FaceType() == face.MarkOnly {
		built = imagelib.Concat(img, mask)
	} else {
		built = inv.transform(slot.Stage, img, mask)
	}

	inv.cache[slot.Stage] = &built
	inv.p.observer.BaseImageBuilt(slot.Stage)
	return built, nil
}

func (inv *invocation) checkMask(mask gocv.Mat) error {
	if mask.Rows() != inv.height || mask.Cols() != inv.width {
		return fmt.Errorf("mask is %dx%d, image is %dx%d", mask.Cols(), mask.Rows(), inv.width, inv.height)
	}
	if mask.Type() != gocv.MatTypeCV32FC1 {
		return fmt.Errorf("mask must be CV_32FC1")
	}
	return nil
}

// transform warps color and mask per the stage and stacks them
func (inv *invocation) transform(stage Stage, img, mask gocv.Mat) gocv.Mat {
	warp, tr, flip := stage.geometry()
	col := inv.params.Apply(img, warp, tr, flip, true)
	if mask.Empty() {
		return col
	}
	defer col.Close()
	m := inv.params.Apply(mask, warp, tr, flip, false)
	defer m.Close()
	return imagelib.Concat(col, m)
}

func (inv *invocation) imageOutput(slot SlotSpec) (Output, error) {
	base, err := inv.base(slot)
	if err != nil {
		return Output{}, err
	}

	img, err := inv.region(slot, base)
	if err != nil {
		return Output{}, err
	}
	defer func() { img.Close() }()

	if slot.RandomSubRes != 0 {
		sub := slot.Resolution - slot.RandomSubRes
		r := rand.New(rand.NewPCG(inv.subSeed+uint64(slot.RandomSubRes), pcgStream))
		x := r.IntN(sub + 1)
		y := r.IntN(sub + 1)
		cropped := imagelib.Crop(img, image.Rect(x, y, x+sub, y+sub))
		img.Close()
		img = cropped
	}

	if err := imagelib.Clip(&img, 0, 1); err != nil {
		return Output{}, err
	}

	col, mask := imagelib.SplitColorMask(img)
	defer func() { col.Close() }()
	defer mask.Close()

	if slot.ColorTransfer != ColorTransferNone && inv.req.Reference != nil {
		recolored, err := inv.colorTransfer(slot.ColorTransfer, col, mask)
		if err != nil {
			return Output{}, fmt.Errorf("color transfer %s: %w", slot.ColorTransfer, err)
		}
		col.Close()
		col = recolored
	} else if slot.ColorTransfer != ColorTransferNone {
		inv.p.logger.Debug("no reference sample, skipping color transfer", "sample", inv.req.Sample.Filename())
	}

	if err := normalizeColor(&col, slot); err != nil {
		return Output{}, err
	}

	out, err := inv.convertMode(slot.Mode, col, mask)
	if err != nil {
		return Output{}, err
	}
	defer out.Close()

	if !inv.req.Debug {
		if err := finalClip(&out, slot.NormalizeTanh); err != nil {
			return Output{}, err
		}
	}
	return toOutput(out)
}

func (inv *invocation) landmarkOutput() Output {
	l := inv.req.Sample.Landmarks()
	data := make([]float32, 0, len(l)*2)
	w, h := float32(inv.width), float32(inv.height)
	for _, p := range l {
		data = append(data, clamp01(p.X/w), clamp01(p.Y/h))
	}
	return Output{Kind: KindLandmarks, Shape: []int{len(l), 2}, Data: data}
}

func (inv *invocation) poseOutput(sigmoid bool) (Output, error) {
	var pose face.Pose
	if stored := inv.req.Sample.Pose(); stored != nil {
		pose = *stored
	} else {
		estimated, err := inv.p.pose.Estimate(inv.req.Sample.Landmarks())
		if err != nil {
			return Output{}, fmt.Errorf("failed to estimate pose: %w", err)
		}
		pose = estimated
	}
	if inv.params.Flip {
		pose.Yaw = -pose.Yaw
	}

	data := []float32{pose.Pitch, pose.Yaw, pose.Roll}
	if sigmoid {
		for i, v := range data {
			data[i] = (v + 1) / 2
		}
	}
	return Output{Kind: KindPose, Shape: []int{3}, Data: data}, nil
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
