package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dudu/facesampler/internal/imagelib"
	"github.com/dudu/facesampler/internal/pipeline"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if diff := cmp.Diff(pipeline.DefaultSampleOptions(), cfg.Sample); diff != "" {
		t.Fatalf("sample options mismatch (-want +got):\n%s", diff)
	}
	if cfg.Generator.Workers < 1 {
		t.Fatalf("workers = %d", cfg.Generator.Workers)
	}
	if cfg.Trace.Exporter != "none" || cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FACESAMPLER_RANDOM_FLIP", "false")
	t.Setenv("FACESAMPLER_ROTATION_RANGE", "-30, 30")
	t.Setenv("FACESAMPLER_SCALE_RANGE", "0.2,0.1")
	t.Setenv("FACESAMPLER_TX_RANGE", "bogus")
	t.Setenv("FACESAMPLER_EXTEND_FOREHEAD", "1")
	t.Setenv("FACESAMPLER_WORKERS", "3")
	t.Setenv("FACESAMPLER_SEED", "77")
	t.Setenv("FACESAMPLER_LOG_LEVEL", "debug")
	t.Setenv("MINIO_BUCKET", "dst")

	cfg := Load()
	want := pipeline.DefaultSampleOptions()
	want.RandomFlip = false
	want.RotationRange = imagelib.Range{-30, 30}
	want.ExtendForehead = true
	if diff := cmp.Diff(want, cfg.Sample); diff != "" {
		t.Fatalf("sample options mismatch (-want +got):\n%s", diff)
	}
	if cfg.Generator.Workers != 3 || cfg.Generator.Seed != 77 {
		t.Fatalf("generator config = %+v", cfg.Generator)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.Storage.Bucket != "dst" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"loud":  slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseLayoutSlots(t *testing.T) {
	slots, err := ParseLayout([]byte(`{"slots":[
		{"stage":"warped_transformed","framing":"full","mode":"bgr","resolution":128,"color_transfer":"masked_rct_clip"},
		{"stage":"transformed","framing":"full","mode":"m","resolution":128,"motion_blur":{"chance":25,"range":2}},
		{"stage":"pitch_yaw_roll_sigmoid"}
	]}`))
	if err != nil {
		t.Fatalf("ParseLayout() error = %v", err)
	}
	want := []pipeline.SlotSpec{
		{Stage: pipeline.StageWarpedTransformed, Framing: pipeline.FramingFull, Mode: pipeline.ModeBGR, Resolution: 128, ColorTransfer: pipeline.ColorTransferMaskedRCTClip},
		{Stage: pipeline.StageTransformed, Framing: pipeline.FramingFull, Mode: pipeline.ModeMask, Resolution: 128, MotionBlur: &pipeline.MotionBlur{Chance: 25, Range: 2}},
		{Stage: pipeline.StagePitchYawRollSigmoid},
	}
	if diff := cmp.Diff(want, slots); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLayoutAutoencoder(t *testing.T) {
	slots, err := ParseLayout([]byte(`{"autoencoder":{"framing":"half","resolution":64,"scales":2}}`))
	if err != nil {
		t.Fatalf("ParseLayout() error = %v", err)
	}
	if len(slots) != 5 {
		t.Fatalf("got %d slots, want 5", len(slots))
	}
}

func TestParseLayoutErrors(t *testing.T) {
	for name, data := range map[string]string{
		"empty":   `{}`,
		"both":    `{"slots":[{"stage":"source","mode":"bgr","resolution":8}],"autoencoder":{"framing":"half","resolution":64,"scales":1}}`,
		"unknown": `{"slots":[{"stage":"source","colour":"red"}]}`,
		"stage":   `{"slots":[{"stage":"sideways"}]}`,
	} {
		if _, err := ParseLayout([]byte(data)); !errors.Is(err, pipeline.ErrConfig) {
			t.Fatalf("%s: error = %v, want ErrConfig", name, err)
		}
	}
}

func TestLoadLayoutFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	if err := os.WriteFile(path, []byte(`{"slots":[{"stage":"landmarks"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	slots, err := LoadLayout(path)
	if err != nil {
		t.Fatalf("LoadLayout() error = %v", err)
	}
	if len(slots) != 1 || slots[0].Stage != pipeline.StageLandmarks {
		t.Fatalf("unexpected slots %+v", slots)
	}
	if _, err := LoadLayout(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
