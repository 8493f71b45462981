package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dudu/facesampler/internal/face"
	"github.com/dudu/facesampler/internal/face/facetest"
	"github.com/dudu/facesampler/internal/metrics"
	"github.com/dudu/facesampler/internal/pipeline"
)

// memSource builds a fresh in-memory sample on every call and records
// which indices were requested.
type memSource struct {
	n    int
	size int
	t    face.Type

	mu   sync.Mutex
	hits map[int]int
}

func newMemSource(n, size int, t face.Type) *memSource {
	return &memSource{n: n, size: size, t: t, hits: map[int]int{}}
}

func (s *memSource) Len() int { return s.n }

func (s *memSource) Sample(_ context.Context, i int) (pipeline.Sample, error) {
	if i < 0 || i >= s.n {
		return nil, fmt.Errorf("index %d out of range", i)
	}
	s.mu.Lock()
	s.hits[i]++
	s.mu.Unlock()
	return facetest.NewFaceSample(fmt.Sprintf("s%03d", i), s.size, s.t), nil
}

type countingRecorder struct {
	mu      sync.Mutex
	status  map[string]int
	batches int
}

func (r *countingRecorder) SampleDone(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == nil {
		r.status = map[string]int{}
	}
	r.status[status]++
}

func (r *countingRecorder) BatchDone(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
}

func testSlots() []pipeline.SlotSpec {
	return []pipeline.SlotSpec{
		{Stage: pipeline.StageWarpedTransformed, Framing: pipeline.FramingFull, Mode: pipeline.ModeBGR, Resolution: 32},
		{Stage: pipeline.StageTransformed, Framing: pipeline.FramingFull, Mode: pipeline.ModeMask, Resolution: 32},
		{Stage: pipeline.StagePitchYawRoll},
	}
}

func newTestGenerator(t *testing.T, src *memSource, workers int, seed uint64, opts ...Option) *Generator {
	t.Helper()
	g, err := New(pipeline.New(), src, Config{
		Slots:     testSlots(),
		Options:   pipeline.DefaultSampleOptions(),
		BatchSize: 4,
		Workers:   workers,
		Seed:      seed,
	}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func TestNextProducesStackableBatch(t *testing.T) {
	rec := &countingRecorder{}
	g := newTestGenerator(t, newMemSource(6, 64, face.Full), 3, 99, WithRecorder(rec))

	b, err := g.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(b.Outputs) != 4 || len(b.Samples) != 4 {
		t.Fatalf("batch holds %d samples", len(b.Outputs))
	}

	for slot, want := range [][]int{{4, 32, 32, 3}, {4, 32, 32, 1}, {4, 3}} {
		shape, data, err := b.Stack(slot)
		if err != nil {
			t.Fatalf("Stack(%d) error = %v", slot, err)
		}
		if diff := cmp.Diff(want, shape); diff != "" {
			t.Fatalf("slot %d shape (-want +got):\n%s", slot, diff)
		}
		n := 1
		for _, d := range shape {
			n *= d
		}
		if len(data) != n {
			t.Fatalf("slot %d data length %d, want %d", slot, len(data), n)
		}
	}
	if _, _, err := b.Stack(3); err == nil {
		t.Fatal("expected out of range error")
	}

	if rec.status[metrics.StatusOK] != 4 || rec.batches != 1 {
		t.Fatalf("recorder saw %v and %d batches", rec.status, rec.batches)
	}
}

func TestBatchesAreReproducible(t *testing.T) {
	a := newTestGenerator(t, newMemSource(5, 64, face.Full), 1, 1234)
	b := newTestGenerator(t, newMemSource(5, 64, face.Full), 4, 1234)

	for i := 0; i < 3; i++ {
		ba, err := a.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		bb, err := b.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(ba, bb); diff != "" {
			t.Fatalf("batch %d differs between worker counts (-a +b):\n%s", i, diff)
		}
	}
}

func TestEpochVisitsEverySampleOnce(t *testing.T) {
	src := newMemSource(8, 32, face.Full)
	g := newTestGenerator(t, src, 2, 5)

	for i := 0; i < 2; i++ {
		if _, err := g.Next(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < src.n; i++ {
		if src.hits[i] != 1 {
			t.Fatalf("sample %d used %d times in one epoch", i, src.hits[i])
		}
	}
}

func TestReferencesAreDrawn(t *testing.T) {
	refs := newMemSource(3, 64, face.Full)
	g, err := New(pipeline.New(), newMemSource(4, 64, face.Full), Config{
		Slots: []pipeline.SlotSpec{{
			Stage: pipeline.StageTransformed, Framing: pipeline.FramingFull, Mode: pipeline.ModeBGR,
			Resolution: 32, ColorTransfer: pipeline.ColorTransferRCT,
		}},
		Options:   pipeline.DefaultSampleOptions(),
		BatchSize: 4,
		Workers:   2,
		Seed:      8,
	}, WithReferences(refs))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	total := 0
	for _, n := range refs.hits {
		total += n
	}
	if total != 4 {
		t.Fatalf("references opened %d times, want 4", total)
	}
}

func TestFailingSampleFailsBatch(t *testing.T) {
	rec := &countingRecorder{}
	g := newTestGenerator(t, newMemSource(4, 64, face.Half), 2, 3, WithRecorder(rec))

	_, err := g.Next(context.Background())
	if !errors.Is(err, pipeline.ErrFaceTypeMismatch) {
		t.Fatalf("Next() error = %v, want ErrFaceTypeMismatch", err)
	}
	if rec.status[metrics.StatusFailed] == 0 || rec.batches != 0 {
		t.Fatalf("recorder saw %v and %d batches", rec.status, rec.batches)
	}
}

func TestCanceledContext(t *testing.T) {
	g := newTestGenerator(t, newMemSource(4, 64, face.Full), 2, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next() error = %v, want context.Canceled", err)
	}
}

func TestNewValidates(t *testing.T) {
	src := newMemSource(2, 32, face.Full)
	for name, cfg := range map[string]Config{
		"batch": {Slots: testSlots(), BatchSize: 0},
		"slots": {BatchSize: 2},
	} {
		if _, err := New(pipeline.New(), src, cfg); !errors.Is(err, pipeline.ErrConfig) {
			t.Fatalf("%s: error = %v, want ErrConfig", name, err)
		}
	}
	if _, err := New(pipeline.New(), newMemSource(0, 32, face.Full), Config{Slots: testSlots(), BatchSize: 1}); err == nil {
		t.Fatal("expected error for empty source")
	}
}
