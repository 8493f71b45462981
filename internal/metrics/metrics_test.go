package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dudu/facesampler/internal/pipeline"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.BaseImageBuilt(pipeline.StageTransformed)
	m.BaseImageReused(pipeline.StageTransformed)
	m.SlotProcessed(pipeline.SlotSpec{Stage: pipeline.StageTransformed, Mode: pipeline.ModeMask})
	m.SampleDone(StatusOK, 20*time.Millisecond)
	m.SampleDone(StatusFailed, time.Millisecond)
	m.BatchDone(time.Second)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	text := string(body)

	for _, want := range []string{
		`facesampler_base_images_total{stage="transformed"} 1`,
		`facesampler_base_cache_reuse_total 1`,
		`facesampler_slots_total{mode="m",stage="transformed"} 1`,
		`facesampler_samples_total{status="ok"} 1`,
		`facesampler_samples_total{status="failed"} 1`,
		`facesampler_batch_duration_seconds_count 1`,
		`facesampler_sample_duration_seconds_count 2`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
