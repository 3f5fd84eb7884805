package api

import "errors"

// ErrInvalidRequest marks request validation failures so handlers can
// map them to a 400 instead of a 500.
var ErrInvalidRequest = errors.New("invalid request")

type invalidRequestError struct {
	msg string
}

func (e *invalidRequestError) Error() string { return e.msg }

func (e *invalidRequestError) Unwrap() error { return ErrInvalidRequest }

func newInvalidRequest(msg string) error {
	return &invalidRequestError{msg: msg}
}
