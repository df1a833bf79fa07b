package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by services and the HTTP layer.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL_ERROR"

	CodeMalformedPayload = "MALFORMED_PAYLOAD"
	CodeCrossTenant      = "CROSS_TENANT"
	CodeUnknownToken     = "UNKNOWN_TOKEN"
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeQuotaExhausted   = "QUOTA_EXHAUSTED"
	CodeInvalidSubject   = "INVALID_SUBJECT"
	CodeInvalidQuota     = "INVALID_QUOTA"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeRateLimited      = "RATE_LIMITED"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewMalformedPayload reports a scanned string that is not an access code.
func NewMalformedPayload() error {
	return NewDomainError(CodeMalformedPayload, "code not recognized or invalid format", http.StatusBadRequest, nil)
}

// NewCrossTenant reports a code issued by another tenant. The foreign tenant id is
// part of the message so operators can tell where the code came from.
func NewCrossTenant(foreignTenantID string) error {
	return NewDomainError(CodeCrossTenant,
		fmt.Sprintf("code belongs to another condominium (%s)", foreignTenantID),
		http.StatusForbidden,
		map[string]any{"tenant_id": foreignTenantID})
}

func NewUnknownToken() error {
	return NewDomainError(CodeUnknownToken, "access code does not exist", http.StatusNotFound, nil)
}

func NewTokenExpired() error {
	return NewDomainError(CodeTokenExpired, "access code has expired", http.StatusGone, nil)
}

func NewQuotaExhausted() error {
	return NewDomainError(CodeQuotaExhausted, "access code has reached its usage limit", http.StatusConflict, nil)
}

func NewInvalidSubject(message string) error {
	return NewDomainError(CodeInvalidSubject, message, http.StatusUnprocessableEntity, nil)
}

func NewInvalidQuota(maxUses int) error {
	return NewDomainError(CodeInvalidQuota, "max uses must be at least 1", http.StatusUnprocessableEntity,
		map[string]any{"max_uses": maxUses})
}

// NewStoreUnavailable wraps a persistence failure. It is never retried here.
func NewStoreUnavailable(err error) error {
	return &DomainError{
		Code:       CodeStoreUnavailable,
		Message:    "token store unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewRateLimited() error {
	return NewDomainError(CodeRateLimited, "too many validation attempts", http.StatusTooManyRequests, nil)
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}

// HasCode reports whether err carries the given domain code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}
