package model

import "errors"

var (
	// ErrConfiguration marks a malformed descriptor or a descriptor that disagrees with the model.
	ErrConfiguration = errors.New("configuration error")
	// ErrModelNotFound marks a missing model artifact.
	ErrModelNotFound = errors.New("model not found")
	// ErrModelLoad marks an artifact the runtime could not load.
	ErrModelLoad = errors.New("model load error")
	// ErrBadRequest marks absent or unusable client input.
	ErrBadRequest = errors.New("bad request")
)
