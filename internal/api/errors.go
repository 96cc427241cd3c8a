package api

import (
	"errors"
	"fmt"
)

var ErrInvalidRequest = errors.New("invalid request")

// requestError names the request field at fault, if any.
type requestError struct {
	param string
	msg   string
}

func (e *requestError) Error() string {
	if e.param == "" {
		return e.msg
	}
	return e.param + ": " + e.msg
}

func (e *requestError) Unwrap() error { return ErrInvalidRequest }

func newInvalidRequest(msg string) error {
	return &requestError{msg: msg}
}

func invalidParam(param, format string, args ...any) error {
	return &requestError{param: param, msg: fmt.Sprintf(format, args...)}
}

// badRequest splits err into a message and the offending parameter.
func badRequest(err error) (msg, param string) {
	var re *requestError
	if errors.As(err, &re) {
		return re.msg, re.param
	}
	return err.Error(), ""
}
