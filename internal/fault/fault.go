// Package fault defines the error categories shared by the projection engine
// and its callers.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks lens parameters that are inconsistent with the
	// source image. It invalidates a whole batch.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation marks a bad per-request input (direction code, output
	// framing, rotation angle, empty image).
	ErrValidation = errors.New("validation error")

	// ErrProcessing marks an unexpected numeric degeneracy during a transform.
	ErrProcessing = errors.New("processing error")
)

// Kind is the category of an error, as reported per label.
type Kind string

const (
	KindNone          Kind = ""
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindProcessing    Kind = "processing"
	KindOther         Kind = "other"
)

// Configurationf returns an error wrapping ErrConfiguration.
func Configurationf(format string, args ...interface{}) error {
	return wrap(ErrConfiguration, format, args...)
}

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...interface{}) error {
	return wrap(ErrValidation, format, args...)
}

// Processingf returns an error wrapping ErrProcessing.
func Processingf(format string, args ...interface{}) error {
	return wrap(ErrProcessing, format, args...)
}

func wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// KindOf reports the category of err. A nil error has KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrProcessing):
		return KindProcessing
	default:
		return KindOther
	}
}
