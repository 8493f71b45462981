// Package config reads runtime settings from the environment and slot
// layouts from JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/dudu/facesampler/internal/imagelib"
	"github.com/dudu/facesampler/internal/pipeline"
)

type Config struct {
	Sample    pipeline.SampleOptions
	Generator GeneratorConfig
	Storage   StorageConfig
	Pose      PoseConfig
	Trace     TraceConfig
	LogLevel  slog.Level
}

type GeneratorConfig struct {
	Workers int
	// Seed fixes batch contents; 0 seeds from the clock
	Seed uint64
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type PoseConfig struct {
	// ModelPath enables the ONNX pose regressor when set
	ModelPath   string
	LibraryPath string
	CoreML      bool
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	defaults := pipeline.DefaultSampleOptions()

	return Config{
		Sample: pipeline.SampleOptions{
			RandomFlip:     envBool("FACESAMPLER_RANDOM_FLIP", defaults.RandomFlip),
			RotationRange:  envRange("FACESAMPLER_ROTATION_RANGE", defaults.RotationRange),
			ScaleRange:     envRange("FACESAMPLER_SCALE_RANGE", defaults.ScaleRange),
			TXRange:        envRange("FACESAMPLER_TX_RANGE", defaults.TXRange),
			TYRange:        envRange("FACESAMPLER_TY_RANGE", defaults.TYRange),
			ExtendForehead: envBool("FACESAMPLER_EXTEND_FOREHEAD", defaults.ExtendForehead),
		},
		Generator: GeneratorConfig{
			Workers: envInt("FACESAMPLER_WORKERS", max(1, runtime.NumCPU())),
			Seed:    envUint("FACESAMPLER_SEED", 0),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "faces"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Pose: PoseConfig{
			ModelPath:   env("FACESAMPLER_POSE_MODEL", ""),
			LibraryPath: env("ONNXRUNTIME_LIB", ""),
			CoreML:      envBool("FACESAMPLER_COREML", false),
		},
		Trace: TraceConfig{
			Exporter:     env("FACESAMPLER_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
		LogLevel: ParseLevel(env("FACESAMPLER_LOG_LEVEL", "info")),
	}
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Layout is the on-disk slot layout. Exactly one of Slots and Autoencoder
// is set.
type Layout struct {
	Slots       []pipeline.SlotSpec         `json:"slots,omitempty"`
	Autoencoder *pipeline.AutoencoderLayout `json:"autoencoder,omitempty"`
}

// LoadLayout reads a layout file and expands it into slot specs
func LoadLayout(path string) ([]pipeline.SlotSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}
	slots, err := ParseLayout(data)
	if err != nil {
		return nil, fmt.Errorf("layout %s: %w", path, err)
	}
	return slots, nil
}

func ParseLayout(data []byte) ([]pipeline.SlotSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var l Layout
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrConfig, err)
	}
	switch {
	case l.Autoencoder != nil && len(l.Slots) > 0:
		return nil, fmt.Errorf("%w: layout sets both slots and autoencoder", pipeline.ErrConfig)
	case l.Autoencoder != nil:
		return l.Autoencoder.Slots()
	case len(l.Slots) == 0:
		return nil, fmt.Errorf("%w: layout has no slots", pipeline.ErrConfig)
	}
	return l.Slots, nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envUint(key string, fallback uint64) uint64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envRange parses "lo,hi"; a malformed or inverted pair keeps the fallback
func envRange(key string, fallback imagelib.Range) imagelib.Range {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	lo, hi, ok := strings.Cut(value, ",")
	if !ok {
		return fallback
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return fallback
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil || b < a {
		return fallback
	}
	return imagelib.Range{a, b}
}
