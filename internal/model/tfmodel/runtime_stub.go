//go:build !tensorflow

package tfmodel

import (
	"errors"
	"fmt"

	"github.com/Brownie44l1/classify-api/internal/model"
)

// Available reports whether this build can load SavedModels.
const Available = false

// ErrUnavailable is returned when the binary was built without the tensorflow tag.
var ErrUnavailable = errors.New("tensorflow support not compiled in, rebuild with -tags tensorflow")

// Runtime is a placeholder in builds without libtensorflow.
type Runtime struct{}

// New reports ErrUnavailable.
func New() (*Runtime, error) {
	return nil, fmt.Errorf("%w: %w", model.ErrModelLoad, ErrUnavailable)
}

func (r *Runtime) Close() error {
	return nil
}

func (r *Runtime) Open(sig *model.Signature) (model.Session, error) {
	return nil, fmt.Errorf("%w: %w", model.ErrModelLoad, ErrUnavailable)
}
