package sample

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dudu/facesampler/internal/face"
	"github.com/dudu/facesampler/internal/pipeline"
)

// Source is an indexed collection of samples. Samples are opened lazily.
type Source interface {
	Len() int
	Sample(ctx context.Context, i int) (pipeline.Sample, error)
}

var _ pipeline.Sample = (*FileSample)(nil)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// isSampleImage reports whether name is a sample image rather than a
// stored mask or a sidecar.
func isSampleImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if !imageExts[ext] {
		return false
	}
	return !strings.HasSuffix(strings.TrimSuffix(name, filepath.Ext(name)), MaskSuffix)
}

// DirSource serves the images of one local directory
type DirSource struct {
	dir   string
	files []string
}

func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	s := &DirSource{dir: dir}
	for _, e := range entries {
		if e.Type().IsRegular() && isSampleImage(e.Name()) {
			s.files = append(s.files, e.Name())
		}
	}
	if len(s.files) == 0 {
		return nil, fmt.Errorf("no sample images in %s", dir)
	}
	sort.Strings(s.files)
	return s, nil
}

func (s *DirSource) Len() int { return len(s.files) }

func (s *DirSource) Sample(_ context.Context, i int) (pipeline.Sample, error) {
	if i < 0 || i >= len(s.files) {
		return nil, fmt.Errorf("sample index %d out of range", i)
	}
	fs, err := Open(filepath.Join(s.dir, s.files[i]))
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// ObjectStore is the subset of the storage client a sample set needs
type ObjectStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	ReadObject(ctx context.Context, key string) ([]byte, error)
}

// ObjectSource serves samples stored under a bucket prefix using the same
// layout as a directory: image, sidecar and optional mask side by side.
type ObjectSource struct {
	store  ObjectStore
	keys   []string
	logger *slog.Logger
}

func NewObjectSource(ctx context.Context, store ObjectStore, prefix string, logger *slog.Logger) (*ObjectSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	all, err := store.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	s := &ObjectSource{store: store, logger: logger}
	for _, k := range all {
		if isSampleImage(k) {
			s.keys = append(s.keys, k)
		}
	}
	if len(s.keys) == 0 {
		return nil, fmt.Errorf("no sample images under %q", prefix)
	}
	logger.Info("object sample source ready", "prefix", prefix, "samples", len(s.keys))
	return s, nil
}

func (s *ObjectSource) Len() int { return len(s.keys) }

func (s *ObjectSource) Sample(ctx context.Context, i int) (pipeline.Sample, error) {
	if i < 0 || i >= len(s.keys) {
		return nil, fmt.Errorf("sample index %d out of range", i)
	}
	key := s.keys[i]
	base := strings.TrimSuffix(key, path.Ext(key))

	img, err := s.store.ReadObject(ctx, key)
	if err != nil {
		return nil, err
	}

	meta := Metadata{FaceType: face.Undetermined}
	sidecar, err := s.readOptional(ctx, base+".json")
	if err != nil {
		return nil, err
	}
	if sidecar != nil {
		if meta, err = ParseMetadata(sidecar); err != nil {
			return nil, fmt.Errorf("sample %s: %w", key, err)
		}
	} else {
		s.logger.Warn("sample has no metadata sidecar", "key", key)
	}

	mask, err := s.readOptional(ctx, base+MaskSuffix+".png")
	if err != nil {
		return nil, err
	}
	fs, err := Decode(key, img, mask, meta)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func (s *ObjectSource) readOptional(ctx context.Context, key string) ([]byte, error) {
	ok, err := s.store.ObjectExists(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	return s.store.ReadObject(ctx, key)
}
