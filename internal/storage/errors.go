package storage

import (
	"errors"
	"fmt"
)

// Sentinels returned (wrapped in *StorageError) by every provider.
var (
	ErrNotFound     = errors.New("object not found")
	ErrKeyExists    = errors.New("object already exists at this key")
	ErrInvalidKey   = errors.New("invalid storage key")
	ErrTooLarge     = errors.New("object exceeds maximum size")
	ErrAccessDenied = errors.New("access denied")
)

// permanentErrs fail the same way no matter how often they are retried.
var permanentErrs = []error{ErrNotFound, ErrKeyExists, ErrInvalidKey, ErrTooLarge, ErrAccessDenied}

// StorageError records which operation failed on which key.
// Use errors.Is against the sentinels above to classify it.
type StorageError struct {
	Op  string // Put, Get, Delete, URL, Exists, List
	Key string // key or list prefix; may be empty
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsKeyExists reports whether err is a refused write to an existing key.
func IsKeyExists(err error) bool {
	return errors.Is(err, ErrKeyExists)
}

// IsRetryable reports whether a failed operation may succeed if repeated.
// Anything that is not one of the sentinels, such as a network error, is
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, permanent := range permanentErrs {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}
