// Package modeltest provides an in-memory model runtime and model
// directories for tests.
package modeltest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Brownie44l1/classify-api/internal/model"
)

// Runtime opens sessions that return fixed scores for the Confidences output.
type Runtime struct {
	Scores  []float32
	OpenErr error
	RunErr  error

	opens  atomic.Int64
	closes atomic.Int64
	runs   atomic.Int64

	mu        sync.Mutex
	lastInput []float32
	lastKeys  []string
	active    int
	maxActive int
}

// NewRuntime returns a runtime producing scores.
func NewRuntime(scores ...float32) *Runtime {
	return &Runtime{Scores: scores}
}

func (r *Runtime) Open(sig *model.Signature) (model.Session, error) {
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	r.opens.Add(1)
	return &session{rt: r}, nil
}

// Opens counts sessions opened.
func (r *Runtime) Opens() int { return int(r.opens.Load()) }

// Closes counts sessions closed.
func (r *Runtime) Closes() int { return int(r.closes.Load()) }

// Runs counts forward passes.
func (r *Runtime) Runs() int { return int(r.runs.Load()) }

// MaxConcurrent is the largest number of Run calls seen in flight at once.
func (r *Runtime) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

// LastKeys returns the output keys requested by the most recent run.
func (r *Runtime) LastKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastKeys
}

// LastInput returns the most recent input values.
func (r *Runtime) LastInput() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastInput
}

type session struct {
	rt     *Runtime
	closed bool
}

func (s *session) Run(input *model.Tensor, outputKeys []string) ([]*model.Tensor, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	rt := s.rt
	rt.runs.Add(1)

	rt.mu.Lock()
	rt.active++
	if rt.active > rt.maxActive {
		rt.maxActive = rt.active
	}
	rt.lastInput = append([]float32(nil), input.Floats...)
	rt.lastKeys = append([]string(nil), outputKeys...)
	rt.mu.Unlock()
	defer func() {
		rt.mu.Lock()
		rt.active--
		rt.mu.Unlock()
	}()

	if rt.RunErr != nil {
		return nil, rt.RunErr
	}

	out := make([]*model.Tensor, len(outputKeys))
	for i, key := range outputKeys {
		switch key {
		case model.DefaultConfidenceKey:
			out[i] = &model.Tensor{
				Shape:  []int64{1, int64(len(rt.Scores))},
				Floats: append([]float32(nil), rt.Scores...),
			}
		default:
			out[i] = &model.Tensor{Shape: []int64{1}, Bytes: [][]byte{[]byte(key)}}
		}
	}
	return out, nil
}

func (s *session) Close() error {
	if !s.closed {
		s.closed = true
		s.rt.closes.Add(1)
	}
	return nil
}

// Signature is the JSON form of signature.json used by WriteModelDir.
type Signature struct {
	Filename           string         `json:"filename,omitempty"`
	ExportModelVersion *int           `json:"export_model_version,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	Inputs             map[string]any `json:"inputs,omitempty"`
	Outputs            map[string]any `json:"outputs,omitempty"`
	Classes            map[string]any `json:"classes,omitempty"`
}

// DefaultSignature describes a size×size RGB classifier over labels.
func DefaultSignature(size int, labels ...string) Signature {
	version := model.ExportModelVersion
	return Signature{
		Filename:           "model.onnx",
		ExportModelVersion: &version,
		Tags:               []string{"serve"},
		Inputs: map[string]any{
			"Image": map[string]any{"name": "Image:0", "shape": []any{nil, size, size, 3}},
		},
		Outputs: map[string]any{
			"Confidences": map[string]any{"name": "Confidences:0", "dtype": "float32", "shape": []any{nil, len(labels)}},
			"Label":       map[string]any{"name": "Label:0", "dtype": "string", "shape": []any{nil}},
		},
		Classes: map[string]any{"Label": labels},
	}
}

// WriteModelDir writes sig and an empty model artifact into a temp dir.
func WriteModelDir(t testing.TB, sig Signature) string {
	t.Helper()

	dir := t.TempDir()
	WriteSignature(t, dir, sig)
	return dir
}

// WriteSignature writes sig and its model artifact into an existing dir,
// replacing what is there.
func WriteSignature(t testing.TB, dir string, sig Signature) {
	t.Helper()

	data, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("failed to marshal signature: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, model.SignatureFile), data, 0644); err != nil {
		t.Fatalf("failed to write signature: %v", err)
	}
	if sig.Filename != "" {
		if err := os.WriteFile(filepath.Join(dir, sig.Filename), []byte("onnx"), 0644); err != nil {
			t.Fatalf("failed to write model file: %v", err)
		}
	}
}
