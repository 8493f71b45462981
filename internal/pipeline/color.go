package pipeline

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/dudu/facesampler/internal/imagelib"
)

type reinhardFlags struct {
	useMask, preservePaper, clip bool
}

var reinhardModes = map[ColorTransferMode]reinhardFlags{
	ColorTransferRCT:                {false, false, false},
	ColorTransferRCTClip:            {false, false, true},
	ColorTransferRCTPaper:           {false, true, false},
	ColorTransferRCTPaperClip:       {false, true, true},
	ColorTransferMaskedRCT:          {true, false, false},
	ColorTransferMaskedRCTClip:      {true, false, true},
	ColorTransferMaskedRCTPaper:     {true, true, false},
	ColorTransferMaskedRCTPaperClip: {true, true, true},
}

// colorTransfer recolors col toward the reference sample. The reference
// pixels and mask are loaded at most once per invocation.
func (inv *invocation) colorTransfer(mode ColorTransferMode, col, mask gocv.Mat) (gocv.Mat, error) {
	ref, err := inv.referenceColor()
	if err != nil {
		return gocv.Mat{}, err
	}

	if mode == ColorTransferLCT {
		return imagelib.LinearColorTransfer(col, ref)
	}

	flags, ok := reinhardModes[mode]
	if !ok {
		return gocv.Mat{}, fmt.Errorf("%w: unknown color transfer mode %s", ErrConfig, mode)
	}

	opts := imagelib.ReinhardOptions{
		Clip:          flags.clip,
		PreservePaper: flags.preservePaper,
	}
	if flags.useMask {
		refMask, err := inv.referenceMask()
		if err != nil {
			return gocv.Mat{}, err
		}
		opts.TargetMask = mask
		opts.RefMask = refMask
	}
	return imagelib.ReinhardColorTransfer(col, ref, opts)
}

func (inv *invocation) referenceColor() (gocv.Mat, error) {
	if inv.refColor != nil {
		return *inv.refColor, nil
	}
	m, err := inv.req.Reference.LoadColor()
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to load reference %s: %w", inv.req.Reference.Filename(), err)
	}
	inv.refColor = &m
	return m, nil
}

// referenceMask uses the primary sample's forehead setting for the reference too
func (inv *invocation) referenceMask() (gocv.Mat, error) {
	if inv.refMask != nil {
		return *inv.refMask, nil
	}
	m, err := inv.req.Reference.LoadMask(inv.req.Options.ExtendForehead)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to load reference mask %s: %w", inv.req.Reference.Filename(), err)
	}
	inv.refMask = &m
	return m, nil
}
