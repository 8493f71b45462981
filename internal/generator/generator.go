// Package generator assembles training batches by running the sample
// pipeline over a sample source concurrently.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dudu/facesampler/internal/metrics"
	"github.com/dudu/facesampler/internal/pipeline"
	"github.com/dudu/facesampler/internal/sample"
)

const tracerName = "github.com/dudu/facesampler/internal/generator"

// Recorder receives per-sample and per-batch timings
type Recorder interface {
	SampleDone(status string, elapsed time.Duration)
	BatchDone(elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) SampleDone(string, time.Duration) {}
func (nopRecorder) BatchDone(time.Duration) {}

type Config struct {
	Slots     []pipeline.SlotSpec
	Options   pipeline.SampleOptions
	BatchSize int
	// Workers bounds the samples processed at once
	Workers int
	// Seed makes the batch sequence reproducible; 0 picks one at random
	Seed  uint64
	Debug bool
}

// Generator yields batches in epoch order: every sample of the source is
// used once, in a shuffled order, before any is repeated. Next must not be
// called concurrently.
type Generator struct {
	proc     *pipeline.Processor
	samples  sample.Source
	refs     sample.Source
	cfg      Config
	recorder Recorder
	logger   *slog.Logger
	tracer   trace.Tracer

	rng     *rand.Rand
	order   []int
	pos     int
	batches int
}

type Option func(*Generator)

// WithReferences draws a random color transfer reference for every sample
func WithReferences(src sample.Source) Option {
	return func(g *Generator) { g.refs = src }
}

func WithRecorder(r Recorder) Option {
	return func(g *Generator) {
		if r != nil {
			g.recorder = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

func New(proc *pipeline.Processor, samples sample.Source, cfg Config, opts ...Option) (*Generator, error) {
	if samples == nil || samples.Len() == 0 {
		return nil, fmt.Errorf("%w: empty sample source", pipeline.ErrConfig)
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", pipeline.ErrConfig, cfg.BatchSize)
	}
	if len(cfg.Slots) == 0 {
		return nil, fmt.Errorf("%w: no output slots", pipeline.ErrConfig)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}

	g := &Generator{
		proc:     proc,
		samples:  samples,
		cfg:      cfg,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		rng:      rand.New(rand.NewPCG(cfg.Seed, uint64(samples.Len()))),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.refs != nil && g.refs.Len() == 0 {
		return nil, fmt.Errorf("%w: empty reference source", pipeline.ErrConfig)
	}
	return g, nil
}

// Seed returns the seed the batch sequence derives from
func (g *Generator) Seed() uint64 { return g.cfg.Seed }

// job is everything one sample of a batch needs, drawn up front so the
// batch does not depend on goroutine scheduling.
type job struct {
	index int
	ref   int
	seed  uint64
}

func (g *Generator) nextIndex() int {
	if g.pos >= len(g.order) {
		g.order = g.rng.Perm(g.samples.Len())
		g.pos = 0
	}
	i := g.order[g.pos]
	g.pos++
	return i
}

func (g *Generator) plan() []job {
	jobs := make([]job, g.cfg.BatchSize)
	for i := range jobs {
		jobs[i] = job{index: g.nextIndex(), ref: -1, seed: g.rng.Uint64() | 1}
		if g.refs != nil {
			jobs[i].ref = g.rng.IntN(g.refs.Len())
		}
	}
	return jobs
}

// Next produces one batch. The first failing sample cancels the rest.
func (g *Generator) Next(ctx context.Context) (*Batch, error) {
	start := time.Now()
	batchIndex := g.batches
	g.batches++

	ctx, span := g.tracer.Start(ctx, "generator.batch", trace.WithAttributes(
		attribute.Int("batch.index", batchIndex),
		attribute.Int("batch.size", g.cfg.BatchSize),
	))
	defer span.End()

	jobs := g.plan()
	batch := &Batch{
		Index:   batchIndex,
		Samples: make([]string, len(jobs)),
		Outputs: make([][]pipeline.Output, len(jobs)),
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Workers)
	for i, j := range jobs {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			name, out, err := g.runJob(egCtx, j)
			if err != nil {
				return err
			}
			batch.Samples[i] = name
			batch.Outputs[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("batch %d: %w", batchIndex, err)
	}

	elapsed := time.Since(start)
	g.recorder.BatchDone(elapsed)
	g.logger.Debug("batch ready", "batch", batchIndex, "samples", len(jobs), "elapsed", elapsed)
	return batch, nil
}

func (g *Generator) runJob(ctx context.Context, j job) (string, []pipeline.Output, error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "generator.sample", trace.WithAttributes(
		attribute.Int("sample.index", j.index),
		attribute.Int("slots", len(g.cfg.Slots)),
	))
	defer span.End()

	fail := func(err error) (string, []pipeline.Output, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.recorder.SampleDone(metrics.StatusFailed, time.Since(start))
		return "", nil, err
	}

	s, err := g.samples.Sample(ctx, j.index)
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.String("sample.filename", s.Filename()))

	req := pipeline.Request{
		Sample:  s,
		Options: g.cfg.Options,
		Slots:   g.cfg.Slots,
		Debug:   g.cfg.Debug,
		Seed:    j.seed,
	}
	if j.ref >= 0 {
		ref, err := g.refs.Sample(ctx, j.ref)
		if err != nil {
			return fail(fmt.Errorf("reference %d: %w", j.ref, err))
		}
		req.Reference = ref
	}

	out, err := g.proc.Process(req)
	if err != nil {
		return fail(err)
	}
	g.recorder.SampleDone(metrics.StatusOK, time.Since(start))
	return s.Filename(), out, nil
}
