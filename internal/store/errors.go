package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional write matched no row because
// the record is no longer in the expected state.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is matched by every DuplicateError.
var ErrDuplicate = errors.New("duplicate")

const uniqueViolation = "23505"

// DuplicateError reports a unique constraint violation on Field.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return e.Field + " already exists"
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// translateUnique maps a unique violation on one of the known constraints to
// a DuplicateError. Other errors are returned unchanged.
func translateUnique(err error, fields map[string]string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	if field, ok := fields[pqErr.Constraint]; ok {
		return &DuplicateError{Field: field}
	}
	return &DuplicateError{Field: pqErr.Constraint}
}
