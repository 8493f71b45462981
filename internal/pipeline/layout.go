package pipeline

import "fmt"

// AutoencoderLayout describes the slot set of a multiscale autoencoder
type AutoencoderLayout struct {
	Framing       Framing           `json:"framing"`
	Resolution    int               `json:"resolution"`
	Scales        int               `json:"scales"`
	ColorTransfer ColorTransferMode `json:"color_transfer,omitempty"`
	// Pretrain shuffles the input channels
	Pretrain bool `json:"pretrain,omitempty"`
}

// Slots expands the layout: a warped input at full resolution, then the
// color targets and mask targets at resolution/2^i for each scale.
func (l AutoencoderLayout) Slots() ([]SlotSpec, error) {
	if l.Scales < 1 {
		return nil, fmt.Errorf("%w: need at least one scale, got %d", ErrConfig, l.Scales)
	}
	if l.Resolution>>(l.Scales-1) < 1 {
		return nil, fmt.Errorf("%w: resolution %d too small for %d scales", ErrConfig, l.Resolution, l.Scales)
	}

	inputMode := ModeBGR
	if l.Pretrain {
		inputMode = ModeBGRShuffle
	}

	slots := []SlotSpec{{
		Stage:         StageWarpedTransformed,
		Framing:       l.Framing,
		Mode:          inputMode,
		Resolution:    l.Resolution,
		ColorTransfer: l.ColorTransfer,
	}}
	for i := 0; i < l.Scales; i++ {
		slots = append(slots, SlotSpec{
			Stage:         StageTransformed,
			Framing:       l.Framing,
			Mode:          ModeBGR,
			Resolution:    l.Resolution >> i,
			ColorTransfer: l.ColorTransfer,
		})
	}
	for i := 0; i < l.Scales; i++ {
		slots = append(slots, SlotSpec{
			Stage:      StageTransformed,
			Framing:    l.Framing,
			Mode:       ModeMask,
			Resolution: l.Resolution >> i,
		})
	}
	return slots, nil
}
