package models

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrService       = errors.New("service error")
	ErrStorage       = errors.New("storage error")
)

// Error carries a user-facing message alongside the failure kind and the
// underlying diagnostic.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func ValidationError(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func ConfigurationError(msg string, err error) error {
	return &Error{Kind: ErrConfiguration, Message: msg, Err: err}
}

func ServiceError(msg string, err error) error {
	return &Error{Kind: ErrService, Message: msg, Err: err}
}

func StorageError(msg string, err error) error {
	return &Error{Kind: ErrStorage, Message: msg, Err: err}
}

// UserMessage returns the text that may be shown to a user for err. The
// underlying diagnostic is never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "An unexpected error occurred."
}

// ImageTooLarge reports an image over the size limit in human units.
func ImageTooLarge(size, limit int64) error {
	return ValidationError(fmt.Sprintf("image is %s; images must be under %s",
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit))))
}
