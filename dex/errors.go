// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"errors"
	"fmt"
)

// ErrorKind identifies a class of error. Packages declare their kinds as
// constants, e.g. const ErrNoBalance = dex.ErrorKind("no balance").
type ErrorKind string

func (e ErrorKind) Error() string {
	return string(e)
}

// Error is an error annotated with a detail message. errors.Is and errors.As
// see through it to the wrapped error.
type Error struct {
	err    error
	detail string
}

func (e Error) Error() string {
	return e.err.Error() + ": " + e.detail
}

// Unwrap returns the wrapped error.
func (e Error) Unwrap() error {
	return e.err
}

// NewError annotates err with the detail message.
func NewError(err error, detail string) Error {
	return Error{err: err, detail: detail}
}

// NewErrorf is like NewError with a formatted detail message.
func NewErrorf(err error, format string, a ...any) Error {
	return Error{err: err, detail: fmt.Sprintf(format, a...)}
}

// KindOf returns the first ErrorKind in err's chain, or the empty kind.
func KindOf(err error) ErrorKind {
	var kind ErrorKind
	if errors.As(err, &kind) {
		return kind
	}
	return ""
}

// ErrorCloser collects the teardown steps of a multi-step startup. If Success
// is not called before Done, the steps run in reverse order.
type ErrorCloser struct {
	closers []func() error
}

// NewErrorCloser is the constructor for an ErrorCloser.
func NewErrorCloser() *ErrorCloser {
	return &ErrorCloser{}
}

// Add schedules a teardown step.
func (e *ErrorCloser) Add(closer func() error) {
	e.closers = append(e.closers, closer)
}

// Success discards the scheduled steps.
func (e *ErrorCloser) Success() {
	e.closers = nil
}

// Done runs any steps not discarded by Success, logging their errors.
func (e *ErrorCloser) Done(log Logger) {
	for len(e.closers) > 0 {
		i := len(e.closers) - 1
		closer := e.closers[i]
		e.closers = e.closers[:i]
		if err := closer(); err != nil {
			log.Errorf("Teardown step %d failed: %v", i, err)
		}
	}
}
