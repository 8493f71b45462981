package generator

import (
	"fmt"
	"slices"

	"github.com/dudu/facesampler/internal/pipeline"
)

// Batch holds the outputs of every sample, indexed [sample][slot]
type Batch struct {
	Index   int
	Samples []string
	Outputs [][]pipeline.Output
}

// Stack joins one slot across the batch into a single tensor with a
// leading batch dimension.
func (b *Batch) Stack(slot int) ([]int, []float32, error) {
	if len(b.Outputs) == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	if slot < 0 || slot >= len(b.Outputs[0]) {
		return nil, nil, fmt.Errorf("slot %d out of range", slot)
	}

	shape := b.Outputs[0][slot].Shape
	size := len(b.Outputs[0][slot].Data)
	data := make([]float32, 0, size*len(b.Outputs))
	for i, outs := range b.Outputs {
		o := outs[slot]
		if !slices.Equal(o.Shape, shape) {
			return nil, nil, fmt.Errorf("sample %d slot %d has shape %v, want %v", i, slot, o.Shape, shape)
		}
		data = append(data, o.Data...)
	}
	return append([]int{len(b.Outputs)}, shape...), data, nil
}
