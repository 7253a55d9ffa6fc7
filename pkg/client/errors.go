package client

import (
	"errors"
	"fmt"
)

// ErrMissingField is wrapped by ParseError when a required response field is
// absent.
var ErrMissingField = errors.New("missing field")

// ConnectivityError reports a failed exchange with the query engine: a
// transport failure, a non-2xx response, or a job that ended in failure.
type ConnectivityError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ConnectivityError) Error() string {
	msg := e.Op + ": connectivity error"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ParseError reports a response that lacks an expected field or carries a
// malformed one.
type ParseError struct {
	Op    string
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse %s: %v", e.Op, e.Field, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

func missingField(op, field string) *ParseError {
	return &ParseError{Op: op, Field: field, Err: ErrMissingField}
}
