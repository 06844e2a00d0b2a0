//go:build tensorflow

package tfmodel

import (
	"fmt"

	tf "github.com/wamuir/graft/tensorflow"

	"github.com/Brownie44l1/classify-api/internal/logger"
	"github.com/Brownie44l1/classify-api/internal/model"
)

// Available reports whether this build can load SavedModels.
const Available = true

// Runtime loads SavedModel exports with the signature's tags.
type Runtime struct{}

// New returns a TensorFlow runtime.
func New() (*Runtime, error) {
	logger.Logger.Info("tensorflow runtime", "version", tf.Version())
	return &Runtime{}, nil
}

// Close is a no-op; each session owns its graph.
func (r *Runtime) Close() error {
	return nil
}

// Open loads the SavedModel in sig.Dir and resolves the signature's wire names.
func (r *Runtime) Open(sig *model.Signature) (model.Session, error) {
	spec, err := sig.ImageInput()
	if err != nil {
		return nil, err
	}

	saved, err := tf.LoadSavedModel(sig.Dir, Tags(sig), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load saved model %s with tags %v: %v", model.ErrModelLoad, sig.Dir, Tags(sig), err)
	}

	s := &session{saved: saved, outputs: make(map[string]tf.Output, len(sig.Outputs))}
	s.input, err = lookup(saved.Graph, spec.Name)
	if err != nil {
		s.Close()
		return nil, err
	}
	for key, out := range sig.Outputs {
		s.outputs[key], err = lookup(saved.Graph, out.Name)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("output %q: %w", key, err)
		}
	}
	return s, nil
}

func lookup(graph *tf.Graph, name string) (tf.Output, error) {
	opName, index, err := parseTensorName(name)
	if err != nil {
		return tf.Output{}, err
	}
	op := graph.Operation(opName)
	if op == nil {
		return tf.Output{}, fmt.Errorf("%w: graph has no operation %q", model.ErrConfiguration, opName)
	}
	if index >= op.NumOutputs() {
		return tf.Output{}, fmt.Errorf("%w: operation %q has %d outputs, signature names output %d",
			model.ErrConfiguration, opName, op.NumOutputs(), index)
	}
	return op.Output(index), nil
}

type session struct {
	saved   *tf.SavedModel
	input   tf.Output
	outputs map[string]tf.Output
}

func (s *session) Run(input *model.Tensor, outputKeys []string) ([]*model.Tensor, error) {
	batch, err := imageBatch(input)
	if err != nil {
		return nil, err
	}
	feed, err := tf.NewTensor(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to build input tensor: %w", err)
	}

	fetches := make([]tf.Output, len(outputKeys))
	for i, key := range outputKeys {
		out, ok := s.outputs[key]
		if !ok {
			return nil, fmt.Errorf("%w: unknown output %q", model.ErrConfiguration, key)
		}
		fetches[i] = out
	}

	results, err := s.saved.Session.Run(map[tf.Output]*tf.Tensor{s.input: feed}, fetches, nil)
	if err != nil {
		return nil, fmt.Errorf("session run failed: %w", err)
	}

	tensors := make([]*model.Tensor, len(results))
	for i, r := range results {
		tensors[i], err = fromValue(r.Shape(), r.Value())
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", outputKeys[i], err)
		}
	}
	return tensors, nil
}

func (s *session) Close() error {
	if s.saved == nil {
		return nil
	}
	err := s.saved.Session.Close()
	s.saved = nil
	return err
}
