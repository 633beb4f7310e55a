package persistence

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("dataset not found")
	ErrStorageUnavailable = errors.New("external storage unavailable")
	ErrNotAvailable       = errors.New("persistence worker not available")
	ErrInvalidName        = errors.New("invalid dataset name")
	ErrUnknownClient      = errors.New("unknown client")
)

// IOError reports a failed read or write against a dataset file.
type IOError struct {
	Op   string
	Name string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("[worker] %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
