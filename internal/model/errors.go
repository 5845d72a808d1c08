package model

import "errors"

var (
	// ErrUnknownModel is returned when a model string cannot be normalised.
	ErrUnknownModel = errors.New("model: unknown model name")

	// ErrMalformed is returned when a payload does not have the expected shape.
	ErrMalformed = errors.New("model: malformed payload")
)
