package rpc

import "fmt"

// Code mirrors the transport status codes named in spec.md §6. The actual
// transport is an external collaborator (SPEC_FULL.md §0); these are carried
// as a small {code, message} envelope instead of HTTP/2 trailers.
type Code string

const (
	CodeInvalidArgument Code = "InvalidArgument"
	CodeUnauthenticated Code = "Unauthenticated"
	CodeAlreadyExists   Code = "AlreadyExists"
	CodeInternal        Code = "Internal"
	CodeNotImplemented  Code = "NotImplemented"
)

// StatusError is an error carrying one of the Code values above, the shape
// every RPC in this module fails with.
type StatusError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status builds a *StatusError, the constructor used throughout the relay
// core and session registry.
func Status(code Code, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsStatus unwraps err into a *StatusError, synthesizing an Internal one if
// err doesn't already carry a code.
func AsStatus(err error) *StatusError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*StatusError); ok {
		return se
	}
	return &StatusError{Code: CodeInternal, Message: err.Error()}
}
