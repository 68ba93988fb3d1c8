package store

import "errors"

var (
	// ErrEmptyModelID indicates a fetch row cannot be created without a model ID
	ErrEmptyModelID = errors.New("empty_model_id")

	// ErrNotFound indicates the requested row does not exist
	ErrNotFound = errors.New("not_found")
)
