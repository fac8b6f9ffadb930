package database

import (
	"errors"
	"fmt"
)

// ErrorKind distinguishes storage failures a caller may retry from those it must fix.
type ErrorKind int

const (
	// KindUnavailable covers I/O and connection failures; retrying may succeed.
	KindUnavailable ErrorKind = iota + 1
	// KindInvalid covers records the backend refuses to store.
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// StorageError is returned by every ScanStore operation that fails.
type StorageError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func unavailable(op string, err error) error {
	return &StorageError{Kind: KindUnavailable, Op: op, Err: err}
}

func invalid(op string, err error) error {
	return &StorageError{Kind: KindInvalid, Op: op, Err: err}
}

// KindOf reports the kind of a storage failure. Errors that are not a
// StorageError count as unavailable; nil has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return 0
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Kind
	}
	return KindUnavailable
}

// IsInvalid reports whether err is a StorageError of kind Invalid.
func IsInvalid(err error) bool {
	return KindOf(err) == KindInvalid
}

// IsUnavailable reports whether err is an unavailable storage failure.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}
