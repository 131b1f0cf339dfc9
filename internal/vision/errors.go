package vision

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a service failure for retry policy.
type ErrorKind string

const (
	// KindTransient covers network errors, rate limits, and 5xx-class
	// responses. The gateway retries these.
	KindTransient ErrorKind = "transient"

	// KindPermanent covers auth failures and malformed requests (4xx-class).
	// The gateway fails these immediately.
	KindPermanent ErrorKind = "permanent"
)

// Error is a typed failure from the vision service.
type Error struct {
	Kind ErrorKind
	Op   string // "detect" or "extract"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vision %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable service failure.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable service failure.
func Permanent(op string, err error) error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// IsTransient reports whether err is a retryable service failure.
// Untyped errors are treated as transient: an unclassified failure from the
// network layer is more likely a blip than a bad request.
func IsTransient(err error) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind == KindTransient
	}
	return err != nil
}

// IsPermanent reports whether err is a non-retryable service failure.
func IsPermanent(err error) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Kind == KindPermanent
}
