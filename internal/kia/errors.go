package kia

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Broker error codes.
const (
	CodeAuthTokenExpired    = "KIA_AUTH_TOKEN_EXPIRED"
	CodeAuthForbidden       = "KIA_AUTH_FORBIDDEN"
	CodeQuoteSymbolNotFound = "KIA_QUOTE_SYMBOL_NOT_FOUND"
	CodeOrderDuplicated     = "KIA_ORDER_DUPLICATED"
	CodeRateLimited         = "KIA_RATE_LIMITED"
	CodeUpstreamUnavailable = "KIA_UPSTREAM_UNAVAILABLE"
	CodeAPITimeout          = "KIA_API_TIMEOUT"
	CodeResponseInvalid     = "KIA_RESPONSE_INVALID"
	CodeRouteNotFound       = "KIA_ROUTE_NOT_FOUND"
	CodeInvalidRequest      = "KIA_INVALID_REQUEST"
	CodeUnknown             = "KIA_UNKNOWN"
)

// Error is the typed broker error. Retryable marks codes the retry policy
// may attempt again; auth expiry and order timeouts have their own paths.
type Error struct {
	Code      string
	Message   string
	Retryable bool
	Details   map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a broker error.
func NewError(code, message string, retryable bool, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable, Details: details}
}

// AsError unwraps err into a broker error, or nil when it is not one.
func AsError(err error) *Error {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr
	}
	return nil
}

// ErrorCode returns the broker error code of err, or KIA_UNKNOWN.
func ErrorCode(err error) string {
	if kerr := AsError(err); kerr != nil {
		return kerr.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether err is a retryable broker error.
func IsRetryable(err error) bool {
	kerr := AsError(err)
	return kerr != nil && kerr.Retryable
}

// MapHTTPStatus converts a non-2xx response into a broker error.
func MapHTTPStatus(status int, body map[string]any) *Error {
	details := map[string]any{"status": status, "body": body}
	switch {
	case status == 401:
		return NewError(CodeAuthTokenExpired, "auth token expired", true, details)
	case status == 403:
		return NewError(CodeAuthForbidden, "api access forbidden", false, details)
	case status == 404:
		return NewError(CodeQuoteSymbolNotFound, "symbol or resource not found", false, details)
	case status == 409:
		return NewError(CodeOrderDuplicated, "order with this idempotency key already processed", false, details)
	case status == 429:
		return NewError(CodeRateLimited, "rate limit exceeded", true, details)
	case status >= 500 && status <= 599:
		return NewError(CodeUpstreamUnavailable, "upstream trading api unavailable", true, details)
	default:
		return NewError(CodeUnknown, fmt.Sprintf("unexpected status %d", status), false, details)
	}
}

// MapTransportError converts a transport failure into a broker error.
// Timeouts and connection failures map to KIA_API_TIMEOUT; anything the
// decoder rejects maps to KIA_RESPONSE_INVALID at the call site.
func MapTransportError(err error) *Error {
	if kerr := AsError(err); kerr != nil {
		return kerr
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeAPITimeout, "trading api timed out", true, map[string]any{"error": err.Error()})
	}
	// resty surfaces connection refusals and DNS failures as url errors;
	// treat them the same as a timeout so the retry policy applies.
	return NewError(CodeAPITimeout, "trading api unreachable", true, map[string]any{"error": err.Error()})
}

// NewResponseInvalidError marks an unparseable broker response.
func NewResponseInvalidError(err error) *Error {
	return NewError(CodeResponseInvalid, "trading api response malformed", false, map[string]any{"error": err.Error()})
}
