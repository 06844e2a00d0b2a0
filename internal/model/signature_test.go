package model_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/classify-api/internal/logger"
	"github.com/Brownie44l1/classify-api/internal/model"
	"github.com/Brownie44l1/classify-api/internal/model/modeltest"
)

func TestLoadSignature(t *testing.T) {
	dir := modeltest.WriteModelDir(t, modeltest.DefaultSignature(224, "cat", "dog", "bird"))

	sig, err := model.LoadSignature(dir, model.ExportModelVersion)
	require.NoError(t, err)

	assert.Equal(t, "model.onnx", sig.Filename)
	assert.Equal(t, filepath.Join(dir, "model.onnx"), sig.ModelPath)
	assert.Equal(t, 1, sig.Version())
	assert.Equal(t, []string{"serve"}, sig.Tags)
	assert.Equal(t, []string{"cat", "dog", "bird"}, sig.Classes.Label)
	assert.Equal(t, []int64{-1, 224, 224, 3}, sig.Inputs["Image"].Shape)
	assert.Equal(t, "Confidences:0", sig.Outputs["Confidences"].Name)
	assert.Equal(t, []string{"Confidences", "Label"}, sig.OutputKeys())

	height, width, err := sig.TargetSize()
	require.NoError(t, err)
	assert.Equal(t, 224, height)
	assert.Equal(t, 224, width)
}

func TestLoadSignature_VersionMismatchIsNotFatal(t *testing.T) {
	s := modeltest.DefaultSignature(32, "a", "b")
	s.ExportModelVersion = nil
	dir := modeltest.WriteModelDir(t, s)

	sig, err := model.LoadSignature(dir, model.ExportModelVersion)
	require.NoError(t, err)
	assert.Equal(t, -1, sig.Version())

	other := 7
	s.ExportModelVersion = &other
	dir = modeltest.WriteModelDir(t, s)
	sig, err = model.LoadSignature(dir, model.ExportModelVersion)
	require.NoError(t, err)
	assert.Equal(t, 7, sig.Version())
}

func TestLoadSignature_ZeroExpectedVersionMeansCurrent(t *testing.T) {
	var buf bytes.Buffer
	previous := logger.Logger
	logger.SetLogger(logger.New(&buf, "warn", "text"))
	t.Cleanup(func() { logger.SetLogger(previous) })

	dir := modeltest.WriteModelDir(t, modeltest.DefaultSignature(32, "a", "b"))
	_, err := model.LoadSignature(dir, 0)
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	_, err = model.LoadSignature(dir, 2)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "export_model_version")
}

func TestFloatOutputKeys(t *testing.T) {
	dir := modeltest.WriteModelDir(t, modeltest.DefaultSignature(32, "a", "b"))
	sig, err := model.LoadSignature(dir, model.ExportModelVersion)
	require.NoError(t, err)

	assert.Equal(t, "string", sig.Outputs["Label"].DType)
	assert.Equal(t, []string{"Confidences"}, sig.FloatOutputKeys())
	assert.Equal(t, []string{"Confidences", "Label"}, sig.OutputKeys())

	s := modeltest.DefaultSignature(32, "a", "b")
	s.Outputs = map[string]any{
		"Confidences": map[string]any{"name": "Confidences:0"},
		"Logits":      map[string]any{"name": "Logits:0", "dtype": "float32"},
		"Ids":         map[string]any{"name": "Ids:0", "dtype": "int64"},
	}
	dir = modeltest.WriteModelDir(t, s)
	sig, err = model.LoadSignature(dir, model.ExportModelVersion)
	require.NoError(t, err)
	assert.Equal(t, []string{"Confidences", "Logits"}, sig.FloatOutputKeys())
}

func TestCheckInput(t *testing.T) {
	dir := modeltest.WriteModelDir(t, modeltest.DefaultSignature(4, "a"))
	sig, err := model.LoadSignature(dir, model.ExportModelVersion)
	require.NoError(t, err)

	assert.NoError(t, sig.CheckInput(&model.Tensor{Floats: make([]float32, 4*4*3)}))
	assert.ErrorIs(t, sig.CheckInput(&model.Tensor{Floats: make([]float32, 8*8*3)}), model.ErrBadRequest)
	assert.ErrorIs(t, sig.CheckInput(&model.Tensor{Bytes: [][]byte{[]byte("x")}}), model.ErrBadRequest)
	assert.ErrorIs(t, sig.CheckInput(nil), model.ErrBadRequest)
}

func TestLoadSignature_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*modeltest.Signature)
	}{
		{"missing filename", func(s *modeltest.Signature) { s.Filename = "" }},
		{"missing inputs", func(s *modeltest.Signature) { s.Inputs = nil }},
		{"missing outputs", func(s *modeltest.Signature) { s.Outputs = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := modeltest.DefaultSignature(32, "a", "b")
			tt.mutate(&s)
			dir := modeltest.WriteModelDir(t, s)

			_, err := model.LoadSignature(dir, model.ExportModelVersion)
			assert.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestLoadSignature_MissingOrMalformedFile(t *testing.T) {
	_, err := model.LoadSignature(t.TempDir(), model.ExportModelVersion)
	assert.ErrorIs(t, err, model.ErrConfiguration)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, model.SignatureFile), []byte("{not json"), 0644))
	_, err = model.LoadSignature(dir, model.ExportModelVersion)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestLoadSignature_ModelNotFound(t *testing.T) {
	dir := modeltest.WriteModelDir(t, modeltest.DefaultSignature(32, "a"))
	require.NoError(t, os.Remove(filepath.Join(dir, "model.onnx")))

	_, err := model.LoadSignature(dir, model.ExportModelVersion)
	assert.ErrorIs(t, err, model.ErrModelNotFound)
}

func TestImageInput_RejectsBadShapes(t *testing.T) {
	tests := []struct {
		name  string
		shape []any
	}{
		{"rank three", []any{224, 224, 3}},
		{"unknown height", []any{nil, nil, 224, 3}},
		{"four channels", []any{nil, 224, 224, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := modeltest.DefaultSignature(224, "a")
			s.Inputs["Image"] = map[string]any{"name": "Image:0", "shape": tt.shape}
			dir := modeltest.WriteModelDir(t, s)

			sig, err := model.LoadSignature(dir, model.ExportModelVersion)
			require.NoError(t, err)
			_, _, err = sig.TargetSize()
			assert.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestWithImageKey(t *testing.T) {
	dir := modeltest.WriteModelDir(t, modeltest.DefaultSignature(32, "a"))
	sig, err := model.LoadSignature(dir, model.ExportModelVersion)
	require.NoError(t, err)

	other := sig.WithImageKey("Pixels")
	assert.Equal(t, "Pixels", other.ImageKey)
	assert.Equal(t, model.DefaultImageKey, sig.ImageKey)
	_, err = other.ImageInput()
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
