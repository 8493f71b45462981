package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dudu/facesampler/internal/config"
	"github.com/dudu/facesampler/internal/generator"
	"github.com/dudu/facesampler/internal/metrics"
	"github.com/dudu/facesampler/internal/sample"
	"github.com/dudu/facesampler/internal/storage"
)

type batchOptions struct {
	Dir         string
	Prefix      string
	CTDir       string
	CTPrefix    string
	UseBucket   bool
	LayoutPath  string
	OutDir      string
	BatchSize   int
	Batches     int
	Workers     int
	Seed        uint64
	MetricsAddr string
}

var batchOpts batchOptions

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Generate training batches from a sample set",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd.Context(), batchOpts)
	},
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchOpts.Dir, "dir", "d", "", "Local sample directory")
	f.BoolVar(&batchOpts.UseBucket, "bucket", false, "Read samples from the MINIO_BUCKET object store instead of a directory")
	f.StringVar(&batchOpts.Prefix, "prefix", "", "Object key prefix of the sample set")
	f.StringVar(&batchOpts.CTDir, "ct-dir", "", "Directory of color transfer references")
	f.StringVar(&batchOpts.CTPrefix, "ct-prefix", "", "Object key prefix of color transfer references")
	f.StringVarP(&batchOpts.LayoutPath, "layout", "l", "", "JSON slot layout")
	f.StringVarP(&batchOpts.OutDir, "out", "o", "", "Write stacked float32 tensors and a manifest per batch here")
	f.IntVarP(&batchOpts.BatchSize, "batch-size", "b", 16, "Samples per batch")
	f.IntVarP(&batchOpts.Batches, "batches", "n", 1, "Number of batches")
	f.IntVarP(&batchOpts.Workers, "workers", "w", 0, "Parallel samples (0 uses FACESAMPLER_WORKERS)")
	f.Uint64Var(&batchOpts.Seed, "seed", 0, "Random seed (0 uses FACESAMPLER_SEED)")
	f.StringVar(&batchOpts.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")

	batchCmd.MarkFlagRequired("layout")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(ctx context.Context, opts batchOptions) error {
	slots, err := config.LoadLayout(opts.LayoutPath)
	if err != nil {
		return err
	}

	samples, refs, err := openSources(ctx, opts)
	if err != nil {
		return err
	}

	m := metrics.New()
	if opts.MetricsAddr != "" {
		stop := serveMetrics(opts.MetricsAddr, m)
		defer stop()
	}

	proc, release, err := newProcessor(m)
	if err != nil {
		return err
	}
	defer release()

	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Generator.Workers
	}
	seed := opts.Seed
	if seed == 0 {
		seed = cfg.Generator.Seed
	}

	genOpts := []generator.Option{generator.WithRecorder(m), generator.WithLogger(logger)}
	if refs != nil {
		genOpts = append(genOpts, generator.WithReferences(refs))
	}
	gen, err := generator.New(proc, samples, generator.Config{
		Slots:     slots,
		Options:   cfg.Sample,
		BatchSize: opts.BatchSize,
		Workers:   workers,
		Seed:      seed,
	}, genOpts...)
	if err != nil {
		return err
	}
	logger.Info("generating", "samples", samples.Len(), "batches", opts.Batches, "batch_size", opts.BatchSize, "workers", workers, "seed", gen.Seed())

	if opts.OutDir != "" {
		if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	bar := progressbar.NewOptions(opts.Batches,
		progressbar.OptionSetDescription("Generating batches"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	start := time.Now()
	for i := 0; i < opts.Batches; i++ {
		b, err := gen.Next(ctx)
		if err != nil {
			return err
		}
		if opts.OutDir != "" {
			if err := writeBatch(opts.OutDir, b); err != nil {
				return err
			}
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	logger.Info("done", "batches", opts.Batches, "elapsed", time.Since(start))
	return nil
}

func openSources(ctx context.Context, opts batchOptions) (sample.Source, sample.Source, error) {
	if opts.UseBucket == (opts.Dir != "") {
		return nil, nil, errors.New("pass exactly one of --dir and --bucket")
	}

	if opts.Dir != "" {
		samples, err := sample.NewDirSource(opts.Dir)
		if err != nil {
			return nil, nil, err
		}
		if opts.CTDir == "" {
			return samples, nil, nil
		}
		refs, err := sample.NewDirSource(opts.CTDir)
		if err != nil {
			return nil, nil, fmt.Errorf("references: %w", err)
		}
		return samples, refs, nil
	}

	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("reading samples from object store", "bucket", client.Bucket(), "prefix", opts.Prefix)
	samples, err := sample.NewObjectSource(ctx, client, opts.Prefix, logger)
	if err != nil {
		return nil, nil, err
	}
	if opts.CTPrefix == "" {
		return samples, nil, nil
	}
	refs, err := sample.NewObjectSource(ctx, client, opts.CTPrefix, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("references: %w", err)
	}
	return samples, refs, nil
}

func serveMetrics(addr string, m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

type manifestSlot struct {
	File  string `json:"file"`
	Shape []int  `json:"shape"`
}

type manifest struct {
	Index   int            `json:"index"`
	Samples []string       `json:"samples"`
	Slots   []manifestSlot `json:"slots"`
}

// writeBatch stores each stacked slot as raw little endian float32 next to
// a JSON manifest naming the files and shapes.
func writeBatch(dir string, b *generator.Batch) error {
	man := manifest{Index: b.Index, Samples: b.Samples}
	for slot := range b.Outputs[0] {
		shape, data, err := b.Stack(slot)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("batch_%05d_slot_%02d.f32", b.Index, slot)
		if err := writeFloats(filepath.Join(dir, name), data); err != nil {
			return err
		}
		man.Slots = append(man.Slots, manifestSlot{File: name, Shape: shape})
	}

	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("batch_%05d.json", b.Index)), data, 0o644)
}

func writeFloats(path string, data []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
