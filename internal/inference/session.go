// Package inference runs ONNX models through ONNX Runtime.
package inference

import (
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// DefaultLibraryPath is used when no runtime library is configured
const DefaultLibraryPath = "lib/libonnxruntime.so"

var (
	initialized bool
	initMu      sync.Mutex
)

// Initialize loads the ONNX Runtime shared library (call once at startup)
func Initialize(libPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}
	if libPath == "" {
		libPath = DefaultLibraryPath
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime from %s: %w", libPath, err)
	}

	initialized = true
	return nil
}

// Shutdown cleans up ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

// SessionOptions tunes NewSession
type SessionOptions struct {
	// CoreML appends the CoreML execution provider, falling back to CPU
	CoreML bool
	// Threads caps intra-op parallelism; 0 keeps the runtime default
	Threads int
	Logger  *slog.Logger
}

// Session wraps an ONNX Runtime inference session. Run is safe for
// concurrent use.
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	inputNames  []string
	outputNames []string
}

// NewSession creates an inference session from an ONNX model
func NewSession(modelPath string, inputNames, outputNames []string, opts SessionOptions) (*Session, error) {
	if !isInitialized() {
		return nil, fmt.Errorf("ONNX Runtime not initialized, call Initialize() first")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if opts.Threads > 0 {
		if err := options.SetIntraOpNumThreads(opts.Threads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	provider := "cpu"
	if opts.CoreML {
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			logger.Warn("coreml unavailable, using cpu", "model", modelPath, "error", err)
		} else {
			provider = "coreml"
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}
	logger.Info("model loaded", "model", modelPath, "provider", provider)

	return &Session{
		session:     session,
		modelPath:   modelPath,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

func isInitialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// Run executes inference with the given inputs
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	return s.session.Run(inputs, outputs)
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// CreateTensor creates a tensor with the given shape and data
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates a zeroed tensor for output
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	return ort.NewEmptyTensor[T](ort.NewShape(shape...))
}
