package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalid         = errors.New("invalid")
	ErrEmptyDocument   = errors.New("document has no entries")
	ErrSubscriberLimit = errors.New("subscriber limit reached")
)

// BatchError identifies the failing batch when a translation run aborts.
// The wrapped cause keeps the provider classification reachable through
// errors.As.
type BatchError struct {
	Batch int
	cause error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("translation failed at batch %d: %v", e.Batch, e.cause)
}

func (e *BatchError) Unwrap() error { return e.cause }

func newBatchError(batch int, cause error) *BatchError {
	return &BatchError{Batch: batch, cause: cause}
}
