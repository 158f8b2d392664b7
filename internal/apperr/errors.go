// Package apperr carries domain errors with a machine-readable code and the
// HTTP status the REST layer should answer with.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeDataError          = "data_error"
	CodeLicenseExpired     = "license_expired"
	CodeLicenseDisabled    = "license_disabled"
	CodeActivationLimit    = "license_activation_limit_reached"
	CodeActivationInactive = "license_activation_inactive"
	CodeActivationActive   = "license_activation_active"
	CodeLicenseExists      = "license_exists"
	CodeGeneratorExhausted = "generator_exhausted"
	CodeOutOfStock         = "out_of_stock"
	CodeValidation         = "validation_error"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeRateLimited        = "rate_limited"
	CodeNoRoute            = "rest_no_route"
	CodeInternal           = "internal_error"
)

// Error is a domain error: code, human message, and HTTP status.
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code, so errors.Is(err, apperr.ErrLicenseExpired) works
// for any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func New(code string, status int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Status: status}
}

// Wrap attaches cause to a new domain error.
func Wrap(err error, code string, status int, msg string) *Error {
	return &Error{Code: code, Message: msg, Status: status, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound           = &Error{Code: CodeDataError, Status: http.StatusNotFound}
	ErrLicenseExpired     = &Error{Code: CodeLicenseExpired, Status: http.StatusForbidden}
	ErrLicenseDisabled    = &Error{Code: CodeLicenseDisabled, Status: http.StatusForbidden}
	ErrActivationLimit    = &Error{Code: CodeActivationLimit, Status: http.StatusForbidden}
	ErrActivationInactive = &Error{Code: CodeActivationInactive, Status: http.StatusConflict}
	ErrActivationActive   = &Error{Code: CodeActivationActive, Status: http.StatusConflict}
	ErrLicenseExists      = &Error{Code: CodeLicenseExists, Status: http.StatusConflict}
	ErrGeneratorExhausted = &Error{Code: CodeGeneratorExhausted, Status: http.StatusUnprocessableEntity}
	ErrOutOfStock         = &Error{Code: CodeOutOfStock, Status: http.StatusConflict}
	ErrValidation         = &Error{Code: CodeValidation, Status: http.StatusBadRequest}
)

func NotFound(format string, args ...any) *Error {
	return New(CodeDataError, http.StatusNotFound, format, args...)
}

func Invalid(format string, args ...any) *Error {
	return New(CodeValidation, http.StatusBadRequest, format, args...)
}

// StatusOf returns the HTTP status for err: the domain status when err is an
// *Error, 500 otherwise.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status > 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the domain code for err, or internal_error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
