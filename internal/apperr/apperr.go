// Package apperr defines the error taxonomy shared by the annotation core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for reporting.
type Kind int

const (
	Unknown Kind = iota
	// Validation errors are rejected locally before any network call.
	Validation
	// Network errors come from a failed backend or segmentation request.
	Network
	// Session errors mean a segmentation session could not start or switch.
	Session
	// Concurrency errors are stale async results dropped by a sync guard.
	Concurrency
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Network:
		return "network"
	case Session:
		return "session"
	case Concurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Err.Error() == t.Err.Error()
}

func New(kind Kind, msg string) error {
	return &Error{kind, errors.New(msg)}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind, err}
}

// Wrapf wraps err with a formatted context message, keeping it reachable by errors.Is.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{kind, fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
