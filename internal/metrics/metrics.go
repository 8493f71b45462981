// Package metrics exposes sample generation counters to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dudu/facesampler/internal/pipeline"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics is safe for concurrent use and implements pipeline.Observer
type Metrics struct {
	registry       *prometheus.Registry
	samplesTotal   *prometheus.CounterVec
	slotsTotal     *prometheus.CounterVec
	baseImages     *prometheus.CounterVec
	cacheReuse     prometheus.Counter
	sampleDuration prometheus.Histogram
	batchDuration  prometheus.Histogram
}

var _ pipeline.Observer = (*Metrics)(nil)

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facesampler_samples_total",
			Help: "Total processed samples by final status.",
		}, []string{"status"}),
		slotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facesampler_slots_total",
			Help: "Total output slots produced by stage and channel mode.",
		}, []string{"stage", "mode"}),
		baseImages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facesampler_base_images_total",
			Help: "Total base images built by stage.",
		}, []string{"stage"}),
		cacheReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facesampler_base_cache_reuse_total",
			Help: "Total slots served from an already built base image.",
		}),
		sampleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facesampler_sample_duration_seconds",
			Help:    "Processing time of one sample.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facesampler_batch_duration_seconds",
			Help:    "Processing time of one batch.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.samplesTotal,
		m.slotsTotal,
		m.baseImages,
		m.cacheReuse,
		m.sampleDuration,
		m.batchDuration,
	)
	return m
}

func (m *Metrics) BaseImageBuilt(stage pipeline.Stage) {
	m.baseImages.WithLabelValues(stage.String()).Inc()
}

func (m *Metrics) BaseImageReused(pipeline.Stage) {
	m.cacheReuse.Inc()
}

func (m *Metrics) SlotProcessed(slot pipeline.SlotSpec) {
	m.slotsTotal.WithLabelValues(slot.Stage.String(), slot.Mode.String()).Inc()
}

// SampleDone records one finished sample
func (m *Metrics) SampleDone(status string, elapsed time.Duration) {
	m.samplesTotal.WithLabelValues(status).Inc()
	m.sampleDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) BatchDone(elapsed time.Duration) {
	m.batchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
