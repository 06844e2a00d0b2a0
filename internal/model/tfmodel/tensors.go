// Package tfmodel runs TensorFlow SavedModel exports. The runtime needs
// libtensorflow and is compiled only with the "tensorflow" build tag; the
// tensor conversions here are shared by both builds.
package tfmodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Brownie44l1/classify-api/internal/model"
)

// DefaultTags are used when a signature declares none.
var DefaultTags = []string{"serve"}

// Tags returns the meta graph tags to load sig with.
func Tags(sig *model.Signature) []string {
	if len(sig.Tags) == 0 {
		return DefaultTags
	}
	return sig.Tags
}

// parseTensorName splits a graph tensor name such as "Image:0" into its
// operation name and output index. A name without an index refers to output 0.
func parseTensorName(name string) (string, int, error) {
	op, index, found := strings.Cut(name, ":")
	if op == "" {
		return "", 0, fmt.Errorf("%w: empty tensor name %q", model.ErrConfiguration, name)
	}
	if !found {
		return op, 0, nil
	}
	i, err := strconv.Atoi(index)
	if err != nil || i < 0 {
		return "", 0, fmt.Errorf("%w: bad output index in tensor name %q", model.ErrConfiguration, name)
	}
	return op, i, nil
}

// imageBatch nests an [H, W, C] tensor into a batch of one.
func imageBatch(t *model.Tensor) ([][][][]float32, error) {
	if t == nil || len(t.Shape) != 3 {
		return nil, fmt.Errorf("%w: image tensor must be [height, width, channels]", model.ErrBadRequest)
	}
	height, width, channels := int(t.Shape[0]), int(t.Shape[1]), int(t.Shape[2])
	if height*width*channels != len(t.Floats) {
		return nil, fmt.Errorf("%w: shape %v does not hold %d values", model.ErrBadRequest, t.Shape, len(t.Floats))
	}

	rows := make([][][]float32, height)
	for y := range rows {
		rows[y] = make([][]float32, width)
		for x := range rows[y] {
			offset := (y*width + x) * channels
			rows[y][x] = t.Floats[offset : offset+channels : offset+channels]
		}
	}
	return [][][][]float32{rows}, nil
}

// fromValue flattens a fetched tensor value into a model.Tensor. Numeric
// values become Floats and strings become Bytes.
func fromValue(shape []int64, value any) (*model.Tensor, error) {
	out := &model.Tensor{Shape: append([]int64(nil), shape...)}
	switch v := value.(type) {
	case float32:
		out.Floats = []float32{v}
	case []float32:
		out.Floats = append([]float32(nil), v...)
	case [][]float32:
		for _, row := range v {
			out.Floats = append(out.Floats, row...)
		}
	case float64:
		out.Floats = []float32{float32(v)}
	case []float64:
		out.Floats = toFloat32(v)
	case [][]float64:
		for _, row := range v {
			out.Floats = append(out.Floats, toFloat32(row)...)
		}
	case string:
		out.Bytes = [][]byte{[]byte(v)}
	case []string:
		out.Bytes = toBytes(v)
	case [][]string:
		out.Bytes = [][]byte{}
		for _, row := range v {
			out.Bytes = append(out.Bytes, toBytes(row)...)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported output type %T", model.ErrConfiguration, value)
	}
	return out, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func toBytes(v []string) [][]byte {
	out := make([][]byte, len(v))
	for i, s := range v {
		out[i] = []byte(s)
	}
	return out
}
