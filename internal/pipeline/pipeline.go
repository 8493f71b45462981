package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"gocv.io/x/gocv"

	"github.com/dudu/facesampler/internal/face"
	"github.com/dudu/facesampler/internal/imagelib"
)

// Request is one sample processing call
type Request struct {
	Sample  Sample
	Options SampleOptions
	Slots   []SlotSpec
	// Debug draws landmarks, skips the final clip and collapses color+mask outputs
	Debug bool
	// Reference is the optional color transfer target
	Reference Sample
	// Seed fixes every random draw of the call; 0 picks a random seed
	Seed uint64
}

// Processor turns samples into model-ready tensors
type Processor struct {
	logger   *slog.Logger
	pose     PoseEstimator
	observer Observer
}

// Option configures a Processor
type Option func(*Processor)

// WithLogger sets the logger used for per-slot debug events
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPoseEstimator replaces the landmark pose estimator used when a sample has no stored pose
func WithPoseEstimator(e PoseEstimator) Option {
	return func(p *Processor) {
		if e != nil {
			p.pose = e
		}
	}
}

// WithObserver registers a processing event sink
func WithObserver(o Observer) Option {
	return func(p *Processor) {
		if o != nil {
			p.observer = o
		}
	}
}

// New creates a processor
func New(opts ...Option) *Processor {
	p := &Processor{
		logger:   slog.Default(),
		pose:     face.GeometricPoseEstimator{},
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process produces one output per slot, in slot order. In debug mode,
// color+mask outputs are collapsed into premultiplied color.
// The call fails without partial results on the first bad slot.
func (p *Processor) Process(req Request) ([]Output, error) {
	if req.Sample == nil {
		return nil, fmt.Errorf("%w: no sample", ErrConfig)
	}
	if err := p.validate(req); err != nil {
		return nil, err
	}

	seed := req.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	inv, err := p.newInvocation(req, seed)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", req.Sample.Filename(), err)
	}
	defer inv.close()

	outputs := make([]Output, 0, len(req.Slots))
	for i, slot := range req.Slots {
		out, err := inv.process(slot)
		if err != nil {
			return nil, fmt.Errorf("sample %s slot %d: %w", req.Sample.Filename(), i, err)
		}
		p.observer.SlotProcessed(slot)
		outputs = append(outputs, out)
	}

	if req.Debug {
		return collapseDebug(outputs), nil
	}
	return outputs, nil
}

// validate checks every slot, including framing compatibility, before any
// pixel of the sample is loaded.
func (p *Processor) validate(req Request) error {
	s := req.Sample
	landmarks := s.Landmarks()
	isFace := landmarks != nil

	for i, slot := range req.Slots {
		if err := slot.validate(); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}

		switch slot.Stage {
		case StageLandmarks:
			if !isFace {
				return fmt.Errorf("slot %d: %w: %s has no landmarks", i, ErrConfig, s.Filename())
			}
			continue
		case StagePitchYawRoll, StagePitchYawRollSigmoid:
			if !isFace && s.Pose() == nil {
				return fmt.Errorf("slot %d: %w: %s has neither pose nor landmarks", i, ErrConfig, s.Filename())
			}
			continue
		}

		if slot.Mode == ModeMask && !isFace {
			return fmt.Errorf("slot %d: %w: mask mode needs a face sample, %s has no landmarks", i, ErrConfig, s.Filename())
		}
		if !isFace || slot.Framing == FramingNone {
			continue
		}
		if !landmarks.Valid() {
			return fmt.Errorf("slot %d: %w: %s has %d landmarks, need %d", i, ErrConfig, s.Filename(), len(landmarks), face.NumLandmarks)
		}
		want := slot.Framing.FaceType()
		if stored := s.FaceType(); !stored.Covers(want) {
			return &FaceTypeMismatchError{Filename: s.Filename(), Stored: stored, Requested: want}
		}
	}
	return nil
}

// collapseDebug turns every color+mask output into color*mask
func collapseDebug(outputs []Output) []Output {
	result := make([]Output, 0, len(outputs))
	for _, o := range outputs {
		if o.Channels() != 4 {
			result = append(result, o)
			continue
		}
		h, w := o.Shape[0], o.Shape[1]
		data := make([]float32, h*w*3)
		for i := 0; i < h*w; i++ {
			m := o.Data[i*4+3]
			data[i*3] = o.Data[i*4] * m
			data[i*3+1] = o.Data[i*4+1] * m
			data[i*3+2] = o.Data[i*4+2] * m
		}
		result = append(result, Output{Kind: KindImage, Shape: []int{h, w, 3}, Data: data})
	}
	return result
}

// toOutput copies an image matrix into an Output
func toOutput(m gocv.Mat) (Output, error) {
	data, err := imagelib.Floats(m)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Kind:  KindImage,
		Shape: []int{m.Rows(), m.Cols(), m.Channels()},
		Data:  data,
	}, nil
}

var errNoColor = errors.New("buffer has no color channels")
