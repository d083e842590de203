// Package errors is the typed error taxonomy shared by services and the HTTP
// layer. Services return *Error; handlers map Code to a status via MetadataFor.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodePriceNotConfigured       Code = "PRICE_NOT_CONFIGURED"
	CodeInsufficientFunds        Code = "INSUFFICIENT_FUNDS"
	CodeFulfillmentRejected      Code = "FULFILLMENT_REJECTED"
	CodeRemoteUnavailable        Code = "REMOTE_UNAVAILABLE"
	CodeInvalidSignature         Code = "INVALID_SIGNATURE"
	CodeDuplicateNotification    Code = "DUPLICATE_NOTIFICATION"
	CodeCommissionPartialFailure Code = "COMMISSION_PARTIAL_FAILURE"
)

// Metadata is how a code surfaces over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	// ExposeMessage lets the error's own message replace PublicMessage. Only
	// codes raised with caller-facing text set it.
	ExposeMessage bool
}

type flag uint8

const (
	retryable flag = 1 << iota
	withDetails
	exposeMessage
)

func meta(status int, public string, flags flag) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      flags&retryable != 0,
		DetailsAllowed: flags&withDetails != 0,
		ExposeMessage:  flags&exposeMessage != 0,
	}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", withDetails|exposeMessage),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", exposeMessage),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", exposeMessage),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", exposeMessage),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", exposeMessage),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", withDetails|exposeMessage),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", withDetails|exposeMessage),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded", exposeMessage),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails),

	CodePriceNotConfigured:  meta(http.StatusUnprocessableEntity, "service price not configured", withDetails|exposeMessage),
	CodeInsufficientFunds:   meta(http.StatusPaymentRequired, "insufficient balance", withDetails|exposeMessage),
	CodeFulfillmentRejected: meta(http.StatusUnprocessableEntity, "order rejected by provider", withDetails|exposeMessage),
	CodeRemoteUnavailable:   meta(http.StatusServiceUnavailable, "upstream provider unavailable", retryable),
	CodeInvalidSignature:    meta(http.StatusUnauthorized, "invalid signature", 0),
	// acknowledged to the gateway; the status only matters to direct callers
	CodeDuplicateNotification:    meta(http.StatusOK, "notification already processed", 0),
	CodeCommissionPartialFailure: meta(http.StatusMultiStatus, "some commissions could not be credited", retryable|withDetails),
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// Error includes the cause so wrapped driver and transport failures stay
// visible in logs; clients only ever see Message.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
