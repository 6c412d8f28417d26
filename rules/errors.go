package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every NotFoundError
	ErrNotFound = errors.New("not found")

	// ErrSlotEmpty is returned by a Medium whose slot has never been written
	ErrSlotEmpty = errors.New("storage slot is empty")

	// ErrCorruptState marks a persisted payload that could not be decoded.
	// The store recovers from it locally and never returns it to callers.
	ErrCorruptState = errors.New("persisted rules payload is corrupt")
)

// NotFoundError reports an operation that referenced a missing entity
type NotFoundError struct {
	Kind string // "rule" or "version"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// Is makes errors.Is(err, ErrNotFound) hold
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func ruleNotFound(key string) error {
	return &NotFoundError{Kind: "rule", Key: key}
}

func versionNotFound(key string) error {
	return &NotFoundError{Kind: "version", Key: key}
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
