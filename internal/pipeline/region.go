package pipeline

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/dudu/facesampler/internal/face"
	"github.com/dudu/facesampler/internal/imagelib"
)

// region brings a base image to the slot resolution, aligning it to the
// requested framing when the sample has a face. The result is owned by
// the caller.
func (inv *invocation) region(slot SlotSpec, base gocv.Mat) (gocv.Mat, error) {
	res := slot.Resolution
	if !inv.isFace || slot.Framing == FramingNone {
		return imagelib.Resize(base, res), nil
	}

	s := inv.req.Sample
	ft := slot.Framing.FaceType()

	if s.FaceType() != face.MarkOnly {
		mat, err := face.TransformMatrix(s.Landmarks(), res, ft)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("failed to align face: %w", err)
		}
		return imagelib.WarpAffine(base, mat, image.Pt(res, res), gocv.BorderConstant), nil
	}

	// Mark-only samples carry unaligned pixels: align at native size, then
	// apply the stage geometry, then resize.
	native := inv.height
	mat, err := face.TransformMatrix(s.Landmarks(), native, ft)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to align face: %w", err)
	}
	aligned := imagelib.WarpAffine(base, mat, image.Pt(native, native), gocv.BorderConstant)
	defer aligned.Close()

	col, mask := imagelib.SplitColorMask(aligned)
	defer col.Close()
	defer mask.Close()

	warped := inv.transform(slot.Stage, col, mask)
	defer warped.Close()
	return imagelib.Resize(warped, res), nil
}
