package model

import "strings"

// TensorSpec binds a logical tensor key to the name the model graph uses for it.
type TensorSpec struct {
	Name  string  `json:"name"`
	DType string  `json:"dtype,omitempty"`
	Shape []int64 `json:"shape,omitempty"`
}

// Float32 reports whether the tensor holds float32 values. A spec without
// a dtype is assumed to be float32.
func (t TensorSpec) Float32() bool {
	switch strings.ToLower(t.DType) {
	case "", "float", "float32", "dt_float":
		return true
	}
	return false
}

// Classes holds the label vocabulary of the exported model.
type Classes struct {
	Label []string `json:"Label"`
}

// Signature is the parsed signature.json side-car of an exported model.
// It is not modified after LoadSignature returns.
type Signature struct {
	Filename           string                `json:"filename"`
	ExportModelVersion *int                  `json:"export_model_version"`
	Tags               []string              `json:"tags"`
	Inputs             map[string]TensorSpec `json:"inputs"`
	Outputs            map[string]TensorSpec `json:"outputs"`
	Classes            Classes               `json:"classes"`

	// Dir is the model directory the signature was read from.
	Dir string `json:"-"`
	// ModelPath is the resolved location of the model artifact.
	ModelPath string `json:"-"`
	// ImageKey is the logical input key that receives the image tensor.
	ImageKey string `json:"-"`
}

// Tensor is a dense batch-of-one tensor. Exactly one of Floats or Bytes is set.
type Tensor struct {
	Shape  []int64
	Floats []float32
	Bytes  [][]byte
}

// Fetch pairs a logical output key with the tensor the model produced for it.
type Fetch struct {
	Key    string
	Tensor *Tensor
}

// Prediction is one ranked (label, confidence) pair.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// PredictionResult is the ranked response for a single image.
type PredictionResult struct {
	Predictions []Prediction `json:"predictions"`
}

// Top returns the highest ranked prediction.
func (r *PredictionResult) Top() (Prediction, bool) {
	if r == nil || len(r.Predictions) == 0 {
		return Prediction{}, false
	}
	return r.Predictions[0], true
}

// TensorRequest is the body of a raw tensor prediction.
type TensorRequest struct {
	Image []float32 `json:"image"`
}

// ErrorResponse is the structured error payload returned to clients.
type ErrorResponse struct {
	Error string `json:"error"`
}
