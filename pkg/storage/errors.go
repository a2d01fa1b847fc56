package storage

import (
	"errors"
	"fmt"
)

// Kind classifies storage failures.
type Kind string

const (
	KindGeneric     Kind = "GenericError"
	KindNotFound    Kind = "NotFoundError"
	KindPermissions Kind = "PermissionsError"
)

// Error is a storage failure with its classification. The kind name travels
// in the result envelope as the error type.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindNotFound:
		return fmt.Sprintf("File not found: %s", e.Key)
	case e.Err != nil:
		return fmt.Sprintf("%s operation failed for: %s: %v", e.Op, e.Key, e.Err)
	default:
		return fmt.Sprintf("%s operation failed for: %s", e.Op, e.Key)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a storage not-found error.
func IsNotFound(err error) bool {
	var storageErr *Error
	return errors.As(err, &storageErr) && storageErr.Kind == KindNotFound
}
