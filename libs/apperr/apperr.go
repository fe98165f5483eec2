// Package apperr is the error taxonomy shared by every HTTP API in the
// platform. Handlers return *Error values; Write renders them as
//
//	{"error":{"code":"BAD_REQUEST","message":"..."}}
//
// with the HTTP status bound to the code. Anything that is not an *Error is
// reported as INTERNAL_SERVER_ERROR without leaking its text.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	Unauthorized Code = "UNAUTHORIZED"
	Forbidden    Code = "FORBIDDEN"
	NotFound     Code = "NOT_FOUND"
	BadRequest   Code = "BAD_REQUEST"
	Internal     Code = "INTERNAL_SERVER_ERROR"
)

// HTTPStatus maps a code onto its transport status.
func (c Code) HTTPStatus() int {
	switch c {
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case BadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap keeps err for logs while showing msg to callers.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// From converts any error into an *Error, defaulting to Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(Internal, "internal server error", err)
}

type body struct {
	Error payload `json:"error"`
}

type payload struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Write renders err. Internal errors always carry a generic message.
func Write(w http.ResponseWriter, err error) {
	e := From(err)
	msg := e.Message
	if e.Code == Internal && msg == "" {
		msg = "internal server error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body{Error: payload{Code: e.Code, Message: msg}})
}
