// Package errs classifies failures crossing the sync layer.
//
// Every coordinator operation either succeeds or fails with an *Error
// whose Code tells the caller what kind of failure it was. Codes survive
// wrapping, so errs.CodeOf(fmt.Errorf("...: %w", err)) still works.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	Unknown        Code = ""
	Validation     Code = "validation"
	Authentication Code = "authentication"
	Authorization  Code = "authorization"
	Network        Code = "network"
	NotFound       Code = "not_found"
)

// Sentinels usable with errors.Is.
var (
	ErrValidation     = &Error{Code: Validation}
	ErrAuthentication = &Error{Code: Authentication}
	ErrAuthorization  = &Error{Code: Authorization}
	ErrNetwork        = &Error{Code: Network}
	ErrNotFound       = &Error{Code: NotFound}
)

type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Code) + " error"
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the sentinels above
// compare equal to every error of their class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func E(code Code, op, msg string) error {
	return &Error{Code: code, Op: op, Msg: msg}
}

func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

func Errorf(code Code, op, format string, a ...any) error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, a...)}
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// Unknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
