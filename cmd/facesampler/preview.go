package main

import (
	"fmt"
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/dudu/facesampler/internal/config"
	"github.com/dudu/facesampler/internal/pipeline"
	"github.com/dudu/facesampler/internal/sample"
	"github.com/dudu/facesampler/internal/ui"
)

type previewOptions struct {
	SamplePath    string
	ReferencePath string
	LayoutPath    string
	OutDir        string
	Seed          uint64
	Raw           bool
	Show          bool
}

var previewOpts previewOptions

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render every output slot of one sample as PNG files",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPreview(cmd, previewOpts)
	},
}

func init() {
	f := previewCmd.Flags()
	f.StringVarP(&previewOpts.SamplePath, "sample", "s", "", "Sample image (sidecar and mask are picked up next to it)")
	f.StringVarP(&previewOpts.ReferencePath, "reference", "r", "", "Color transfer reference sample")
	f.StringVarP(&previewOpts.LayoutPath, "layout", "l", "", "JSON slot layout")
	f.StringVarP(&previewOpts.OutDir, "out", "o", "preview", "Output directory")
	f.Uint64Var(&previewOpts.Seed, "seed", 0, "Random seed (0 picks one)")
	f.BoolVar(&previewOpts.Raw, "raw", false, "Render training outputs instead of debug outputs")
	f.BoolVar(&previewOpts.Show, "show", false, "Open a window; space draws a new seed, q quits")

	previewCmd.MarkFlagRequired("sample")
	previewCmd.MarkFlagRequired("layout")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, opts previewOptions) error {
	slots, err := config.LoadLayout(opts.LayoutPath)
	if err != nil {
		return err
	}
	s, err := sample.Open(opts.SamplePath)
	if err != nil {
		return err
	}
	req := pipeline.Request{
		Sample:  s,
		Options: cfg.Sample,
		Slots:   slots,
		Debug:   !opts.Raw,
		Seed:    opts.Seed,
	}
	if opts.ReferencePath != "" {
		ref, err := sample.Open(opts.ReferencePath)
		if err != nil {
			return fmt.Errorf("reference: %w", err)
		}
		req.Reference = ref
	}
	if req.Seed == 0 {
		req.Seed = rand.Uint64() | 1
	}

	proc, release, err := newProcessor(nil)
	if err != nil {
		return err
	}
	defer release()

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var window *ui.Window
	if opts.Show {
		window = ui.NewWindow("facesampler preview")
		defer window.Close()
	}

	for {
		sheet, err := writePreview(proc, req, opts.OutDir)
		if err != nil {
			return err
		}
		if window == nil {
			return nil
		}
		if err := window.Show(sheet, fmt.Sprintf("seed %d", req.Seed)); err != nil {
			return err
		}

		for next := false; !next; {
			if cmd.Context().Err() != nil {
				return nil
			}
			switch window.WaitKey(50) {
			case ui.KeyQuit:
				return nil
			case ui.KeyNext:
				req.Seed++
				next = true
			}
		}
	}
}

// writePreview processes the sample once and saves one PNG per image slot
// plus a contact sheet. Landmark and pose outputs are logged.
func writePreview(proc *pipeline.Processor, req pipeline.Request, dir string) (*image.NRGBA, error) {
	outputs, err := proc.Process(req)
	if err != nil {
		return nil, err
	}
	tiles, sheet, err := ui.Render(outputs, req.Slots, req.Debug)
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(req.Sample.Filename()), filepath.Ext(req.Sample.Filename()))
	for i, slot := range req.Slots {
		if tiles[i] == nil {
			logger.Info("slot output", "slot", i, "stage", slot.Stage, "shape", outputs[i].Shape, "values", outputs[i].Data)
			continue
		}
		name := fmt.Sprintf("%s_%02d_%s_%s.png", stem, i, slot.Stage, slot.Mode)
		if err := imaging.Save(tiles[i], filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("failed to save slot %d: %w", i, err)
		}
	}

	sheetPath := filepath.Join(dir, stem+"_sheet.png")
	if err := imaging.Save(sheet, sheetPath); err != nil {
		return nil, fmt.Errorf("failed to save sheet: %w", err)
	}
	logger.Info("preview written", "sample", req.Sample.Filename(), "seed", req.Seed, "sheet", sheetPath)
	return sheet, nil
}
