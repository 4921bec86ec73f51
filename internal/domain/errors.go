package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrorWrite              ErrorCode = "WRITE_ERROR"
	ErrorRead               ErrorCode = "READ_ERROR"
	ErrorNetwork            ErrorCode = "NETWORK_ERROR"
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
)

type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Code, e.Op)
	}
	return fmt.Sprintf("%s (%s): %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// HasCode reports whether any error in err's chain is an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
