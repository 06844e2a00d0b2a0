package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Brownie44l1/classify-api/internal/logger"
)

const (
	// SignatureFile is the descriptor name inside a model directory.
	SignatureFile = "signature.json"
	// ExportModelVersion is the descriptor format this server understands.
	ExportModelVersion = 1
	// DefaultImageKey is the logical input that receives the image.
	DefaultImageKey = "Image"
	// DefaultConfidenceKey is the logical output holding per-class scores.
	DefaultConfidenceKey = "Confidences"
	// ImageChannels is the depth of every image tensor (RGB).
	ImageChannels = 3
)

type rawTensorSpec struct {
	Name  string   `json:"name"`
	DType string   `json:"dtype"`
	Shape []*int64 `json:"shape"`
}

type rawSignature struct {
	Filename           string                   `json:"filename"`
	ExportModelVersion *int                     `json:"export_model_version"`
	Tags               []string                 `json:"tags"`
	Inputs             map[string]rawTensorSpec `json:"inputs"`
	Outputs            map[string]rawTensorSpec `json:"outputs"`
	Classes            Classes                  `json:"classes"`
}

// LoadSignature reads <dir>/signature.json and checks the model artifact it names exists.
// A version other than expectedVersion is logged, not rejected. An
// expectedVersion of zero or less means ExportModelVersion.
func LoadSignature(dir string, expectedVersion int) (*Signature, error) {
	if expectedVersion <= 0 {
		expectedVersion = ExportModelVersion
	}
	path := filepath.Join(dir, SignatureFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrConfiguration, path, err)
	}

	var raw rawSignature
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrConfiguration, path, err)
	}

	switch {
	case raw.Filename == "":
		return nil, fmt.Errorf("%w: %s is missing \"filename\"", ErrConfiguration, path)
	case len(raw.Inputs) == 0:
		return nil, fmt.Errorf("%w: %s is missing \"inputs\"", ErrConfiguration, path)
	case len(raw.Outputs) == 0:
		return nil, fmt.Errorf("%w: %s is missing \"outputs\"", ErrConfiguration, path)
	}

	sig := &Signature{
		Filename:           raw.Filename,
		ExportModelVersion: raw.ExportModelVersion,
		Tags:               raw.Tags,
		Inputs:             convertSpecs(raw.Inputs),
		Outputs:            convertSpecs(raw.Outputs),
		Classes:            raw.Classes,
		Dir:                dir,
		ModelPath:          filepath.Join(dir, raw.Filename),
		ImageKey:           DefaultImageKey,
	}

	info, err := os.Stat(sig.ModelPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, sig.ModelPath)
		}
		return nil, fmt.Errorf("%w: failed to stat %s: %v", ErrModelNotFound, sig.ModelPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrModelNotFound, sig.ModelPath)
	}

	if raw.ExportModelVersion == nil || *raw.ExportModelVersion != expectedVersion {
		logger.Logger.Warn("model format changed, use a model whose signature export_model_version matches",
			"expected", expectedVersion, "declared", versionString(raw.ExportModelVersion), "signature", path)
	}

	return sig, nil
}

// WithImageKey returns a copy of the signature that feeds images to the given logical input.
func (s *Signature) WithImageKey(key string) *Signature {
	cp := *s
	if key != "" {
		cp.ImageKey = key
	}
	return &cp
}

// ImageInput returns the image input spec, which must be [batch, H, W, 3].
func (s *Signature) ImageInput() (TensorSpec, error) {
	spec, ok := s.Inputs[s.ImageKey]
	if !ok {
		return TensorSpec{}, fmt.Errorf("%w: signature has no %q input", ErrConfiguration, s.ImageKey)
	}
	if spec.Name == "" {
		return TensorSpec{}, fmt.Errorf("%w: input %q has no name", ErrConfiguration, s.ImageKey)
	}
	if len(spec.Shape) != 4 {
		return TensorSpec{}, fmt.Errorf("%w: input %q shape %v is not [batch, height, width, 3]",
			ErrConfiguration, s.ImageKey, spec.Shape)
	}
	if spec.Shape[1] <= 0 || spec.Shape[2] <= 0 || (spec.Shape[3] != 3 && spec.Shape[3] != -1) {
		return TensorSpec{}, fmt.Errorf("%w: input %q shape %v is not [batch, height, width, 3]",
			ErrConfiguration, s.ImageKey, spec.Shape)
	}
	return spec, nil
}

// TargetSize returns the height and width images are resized to.
func (s *Signature) TargetSize() (height, width int, err error) {
	spec, err := s.ImageInput()
	if err != nil {
		return 0, 0, err
	}
	return int(spec.Shape[1]), int(spec.Shape[2]), nil
}

// OutputKeys returns the logical output keys in a stable order.
func (s *Signature) OutputKeys() []string {
	keys := make([]string, 0, len(s.Outputs))
	for k := range s.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FloatOutputKeys returns the output keys holding float32 values, in OutputKeys order.
func (s *Signature) FloatOutputKeys() []string {
	keys := s.OutputKeys()
	out := keys[:0]
	for _, k := range keys {
		if s.Outputs[k].Float32() {
			out = append(out, k)
		}
	}
	return out
}

// CheckInput verifies t holds exactly one [H, W, 3] image for the image input.
func (s *Signature) CheckInput(t *Tensor) error {
	height, width, err := s.TargetSize()
	if err != nil {
		return err
	}
	if t == nil || t.Floats == nil {
		return fmt.Errorf("%w: image input must be float32", ErrBadRequest)
	}
	expected := height * width * ImageChannels
	if len(t.Floats) != expected {
		return fmt.Errorf("%w: expected %d values for a %dx%d image, got %d",
			ErrBadRequest, expected, width, height, len(t.Floats))
	}
	return nil
}

// Version reports the declared export version, or -1 when absent.
func (s *Signature) Version() int {
	if s.ExportModelVersion == nil {
		return -1
	}
	return *s.ExportModelVersion
}

func convertSpecs(in map[string]rawTensorSpec) map[string]TensorSpec {
	out := make(map[string]TensorSpec, len(in))
	for key, spec := range in {
		var shape []int64
		if spec.Shape != nil {
			shape = make([]int64, len(spec.Shape))
			for i, dim := range spec.Shape {
				if dim == nil {
					shape[i] = -1
					continue
				}
				shape[i] = *dim
			}
		}
		out[key] = TensorSpec{Name: spec.Name, DType: spec.DType, Shape: shape}
	}
	return out
}

func versionString(v *int) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprint(*v)
}
