package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/classify-api/internal/logger"
)

// ONNXConfig configures the onnxruntime backend.
type ONNXConfig struct {
	// SharedLibraryPath points at libonnxruntime; empty uses the platform default.
	SharedLibraryPath string
	// IntraOpThreads limits the threads one session uses; zero keeps the runtime default.
	IntraOpThreads int
}

var (
	envMu   sync.Mutex
	envRefs int
)

// ONNXRuntime opens sessions with onnxruntime. The shared environment is
// initialised by the first runtime and destroyed when the last one closes.
type ONNXRuntime struct {
	cfg    ONNXConfig
	closed bool
	mu     sync.Mutex
}

// NewONNXRuntime initialises the onnxruntime environment.
func NewONNXRuntime(cfg ONNXConfig) (*ONNXRuntime, error) {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				return nil, fmt.Errorf("%w: failed to initialize ONNX environment: %v", ErrModelLoad, err)
			}
		}
	}
	envRefs++
	return &ONNXRuntime{cfg: cfg}, nil
}

// Close releases this runtime's hold on the environment.
func (r *ONNXRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// Open builds one session with its own pre-allocated input and output tensors.
func (r *ONNXRuntime) Open(sig *Signature) (Session, error) {
	input, err := sig.ImageInput()
	if err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batchOfOne(input.Shape)...))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %v", ErrModelLoad, err)
	}

	s := &onnxSession{
		input:   inputTensor,
		outputs: make(map[string]*ort.Tensor[float32]),
	}

	keys := bindableOutputs(sig, modelOutputTypes(sig.ModelPath))
	if len(keys) == 0 {
		s.Close()
		return nil, fmt.Errorf("%w: %s declares no float32 outputs", ErrConfiguration, sig.ModelPath)
	}
	outputNames := make([]string, 0, len(keys))
	outputValues := make([]ort.ArbitraryTensor, 0, len(keys))
	for _, key := range keys {
		spec := sig.Outputs[key]
		shape := spec.Shape
		if len(shape) == 0 {
			shape = []int64{1, int64(len(sig.Classes.Label))}
		}
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(batchOfOne(shape)...))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: failed to create output tensor %q: %v", ErrModelLoad, key, err)
		}
		s.outputs[key] = t
		outputNames = append(outputNames, spec.Name)
		outputValues = append(outputValues, t)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to create session options: %v", ErrModelLoad, err)
	}
	defer options.Destroy()
	if r.cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(r.cfg.IntraOpThreads); err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: failed to set intra-op threads: %v", ErrModelLoad, err)
		}
	}

	session, err := ort.NewAdvancedSession(sig.ModelPath,
		[]string{input.Name}, outputNames,
		[]ort.ArbitraryTensor{inputTensor}, outputValues,
		options)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to create ONNX session for %s: %v", ErrModelLoad, sig.ModelPath, err)
	}
	s.session = session
	return s, nil
}

type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs map[string]*ort.Tensor[float32]
}

func (s *onnxSession) Run(input *Tensor, outputKeys []string) ([]*Tensor, error) {
	if input == nil || input.Floats == nil {
		return nil, fmt.Errorf("%w: image input must be float32", ErrBadRequest)
	}
	dst := s.input.GetData()
	if len(input.Floats) != len(dst) {
		return nil, fmt.Errorf("%w: input has %d values, model expects %d", ErrConfiguration, len(input.Floats), len(dst))
	}
	copy(dst, input.Floats)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	results := make([]*Tensor, len(outputKeys))
	for i, key := range outputKeys {
		t, ok := s.outputs[key]
		if !ok {
			return nil, fmt.Errorf("%w: output %q is not a float32 tensor bound by the ONNX session", ErrConfiguration, key)
		}
		data := t.GetData()
		values := make([]float32, len(data))
		copy(values, data)
		results[i] = &Tensor{Shape: append([]int64(nil), t.GetShape()...), Floats: values}
	}
	return results, nil
}

func (s *onnxSession) Close() error {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	for key, t := range s.outputs {
		t.Destroy()
		delete(s.outputs, key)
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	return nil
}

// modelOutputTypes reports, per output name in the model file, whether it
// is a float32 tensor. It returns nil when the file cannot be inspected.
func modelOutputTypes(path string) map[string]bool {
	_, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		logger.Logger.Debug("could not inspect model outputs", "path", path, "error", err)
		return nil
	}
	types := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		types[o.Name] = o.DataType == ort.TensorElementDataTypeFloat
	}
	return types
}

// bindableOutputs returns the output keys a float32 session can bind: the
// ones the signature declares as float32, minus any the model file itself
// reports as another type.
func bindableOutputs(sig *Signature, modelTypes map[string]bool) []string {
	var keys []string
	for _, key := range sig.FloatOutputKeys() {
		if isFloat, known := modelTypes[sig.Outputs[key].Name]; known && !isFloat {
			logger.Logger.Debug("skipping non-float output", "output", key)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// batchOfOne replaces unknown dimensions with 1.
func batchOfOne(shape []int64) []int64 {
	out := make([]int64, len(shape))
	for i, d := range shape {
		if d < 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}
