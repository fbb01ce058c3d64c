package config

import (
	"errors"
	"fmt"
)

// Configuration error taxonomy. Callers match with errors.Is.
var (
	// ErrNotFound means the config file does not exist.
	ErrNotFound = errors.New("config file not found")

	// ErrIO means the config file could not be read.
	ErrIO = errors.New("config read error")

	// ErrParse means the config document could not be decoded.
	ErrParse = errors.New("config parse error")

	// ErrValidation means the config decoded but failed validation.
	ErrValidation = errors.New("config validation error")
)

func wrap(kind error, cause error) error {
	return fmt.Errorf("%w: %v", kind, cause)
}
