package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dudu/facesampler/internal/config"
	"github.com/dudu/facesampler/internal/inference"
	"github.com/dudu/facesampler/internal/metrics"
	"github.com/dudu/facesampler/internal/pipeline"
	"github.com/dudu/facesampler/internal/telemetry"
)

const serviceName = "facesampler"

var (
	cfg      config.Config
	logger   *slog.Logger
	logLevel string

	shutdownTracing = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:           "facesampler",
	Short:         "Turn stored face samples into training tensors",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = config.ParseLevel(logLevel)
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		shutdown, err := telemetry.SetupTracing(cmd.Context(), telemetry.TraceConfig{
			ServiceName:  serviceName,
			Exporter:     cfg.Trace.Exporter,
			OTLPEndpoint: cfg.Trace.OTLPEndpoint,
			OTLPInsecure: cfg.Trace.OTLPInsecure,
		}, logger)
		if err != nil {
			return err
		}
		shutdownTracing = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// The command context may already be canceled by a signal
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides FACESAMPLER_LOG_LEVEL)")
}

// newProcessor builds the sample processor, loading the ONNX pose model
// when one is configured. The returned function releases the model.
func newProcessor(m *metrics.Metrics) (*pipeline.Processor, func(), error) {
	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if m != nil {
		opts = append(opts, pipeline.WithObserver(m))
	}
	if cfg.Pose.ModelPath == "" {
		return pipeline.New(opts...), func() {}, nil
	}

	if err := inference.Initialize(cfg.Pose.LibraryPath); err != nil {
		return nil, nil, err
	}
	regressor, err := inference.NewPoseRegressor(cfg.Pose.ModelPath, inference.SessionOptions{
		CoreML: cfg.Pose.CoreML,
		Logger: logger,
	})
	if err != nil {
		inference.Shutdown()
		return nil, nil, fmt.Errorf("failed to load pose model: %w", err)
	}
	release := func() {
		if err := regressor.Close(); err != nil {
			logger.Warn("failed to release pose model", "error", err)
		}
		inference.Shutdown()
	}
	return pipeline.New(append(opts, pipeline.WithPoseEstimator(regressor))...), release, nil
}
