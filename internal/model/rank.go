package model

import (
	"fmt"
	"math"
	"sort"
)

// Row is index 0 of a batch-of-one output, either numeric or decoded text.
type Row struct {
	Floats  []float32
	Strings []string
}

// FirstRow strips the batch dimension and decodes byte strings to text.
func FirstRow(t *Tensor) (Row, error) {
	if t == nil {
		return Row{}, fmt.Errorf("nil output tensor")
	}
	width := rowWidth(t)
	switch {
	case t.Bytes != nil:
		if width > len(t.Bytes) {
			return Row{}, fmt.Errorf("output shape %v larger than %d values", t.Shape, len(t.Bytes))
		}
		out := make([]string, width)
		for i, b := range t.Bytes[:width] {
			out[i] = string(b)
		}
		return Row{Strings: out}, nil
	default:
		if width > len(t.Floats) {
			return Row{}, fmt.Errorf("output shape %v larger than %d values", t.Shape, len(t.Floats))
		}
		return Row{Floats: t.Floats[:width]}, nil
	}
}

// rowWidth is the element count of one batch entry. Tensors without a
// batch dimension are treated as a single row.
func rowWidth(t *Tensor) int {
	n := len(t.Floats)
	if t.Bytes != nil {
		n = len(t.Bytes)
	}
	if len(t.Shape) < 2 {
		return n
	}
	width := 1
	for _, d := range t.Shape[1:] {
		if d < 0 {
			return n
		}
		width *= int(d)
	}
	return width
}

// Rank pairs labels with the confidence vector found under confidenceKey
// and sorts descending. Equal confidences keep their label order and NaN
// confidences sort last.
func Rank(fetches []Fetch, labels []string, confidenceKey string) (*PredictionResult, error) {
	if confidenceKey == "" {
		confidenceKey = DefaultConfidenceKey
	}

	rows := make(map[string]Row, len(fetches))
	for _, f := range fetches {
		row, err := FirstRow(f.Tensor)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", f.Key, err)
		}
		rows[f.Key] = row
	}

	row, ok := rows[confidenceKey]
	if !ok {
		return nil, fmt.Errorf("%w: model produced no %q output", ErrConfiguration, confidenceKey)
	}
	if row.Strings != nil {
		return nil, fmt.Errorf("%w: output %q is not numeric", ErrConfiguration, confidenceKey)
	}
	if len(labels) != len(row.Floats) {
		return nil, fmt.Errorf("%w: %d declared classes but model output has %d confidences",
			ErrConfiguration, len(labels), len(row.Floats))
	}

	predictions := make([]Prediction, len(labels))
	for i, label := range labels {
		predictions[i] = Prediction{Label: label, Confidence: row.Floats[i]}
	}
	sort.SliceStable(predictions, func(i, j int) bool {
		return higher(predictions[i].Confidence, predictions[j].Confidence)
	})

	return &PredictionResult{Predictions: predictions}, nil
}

func higher(a, b float32) bool {
	aNaN, bNaN := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	if aNaN || bNaN {
		return !aNaN && bNaN
	}
	return a > b
}
