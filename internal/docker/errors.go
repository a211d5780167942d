package docker

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested engine resource does not exist.
var ErrNotFound = errors.New("docker: resource not found")

// Error wraps an engine failure with the operation and entity it concerned.
type Error struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the resource is already gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
