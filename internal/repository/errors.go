package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
	// ErrInvalidArgument indicates the store rejected malformed input.
	ErrInvalidArgument = errors.New("repository: invalid argument")
)
