package handler

import (
	"errors"
	"fmt"

	"opaper/message"
)

// Error is a handler failure with an explicit response code.
// Any other error returned by a handler is answered with CodeInternal.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// BadRequest reports a payload the handler cannot work with.
func BadRequest(format string, args ...any) *Error {
	return Errorf(message.CodeBadRequest, format, args...)
}

// Unavailable reports a transient failure; middleware.Retry re-runs such requests.
func Unavailable(format string, args ...any) *Error {
	return Errorf(message.CodeUnavailable, format, args...)
}

// CodeOf maps err to the code and msg of its reply.
func CodeOf(err error) (int, string) {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Code, herr.Msg
	}
	return message.CodeInternal, err.Error()
}
