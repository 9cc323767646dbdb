package database

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateName = errors.New("peer already exists")
	ErrNotFound      = errors.New("peer does not exist")
	ErrCorruptStore  = errors.New("corrupt peer database")
	ErrInvalidRecord = errors.New("invalid peer record")
)

// CorruptStoreError points at the row (and column, when known) of the
// database file that could not be decoded.
type CorruptStoreError struct {
	Line   int
	Column string
	Err    error
}

func (e *CorruptStoreError) Error() string {
	switch {
	case e.Line > 0 && e.Column != "":
		return fmt.Sprintf("%v: line %d, column %s: %v", ErrCorruptStore, e.Line, e.Column, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("%v: line %d: %v", ErrCorruptStore, e.Line, e.Err)
	default:
		return fmt.Sprintf("%v: %v", ErrCorruptStore, e.Err)
	}
}

func (e *CorruptStoreError) Unwrap() error {
	return e.Err
}

func (e *CorruptStoreError) Is(target error) bool {
	return target == ErrCorruptStore
}

func invalid(name string, format string, args ...any) error {
	return fmt.Errorf("%w: peer %q: %s", ErrInvalidRecord, name, fmt.Sprintf(format, args...))
}
