package oauth2

import (
	"errors"
	"net/http"
)

// ErrorCode is a protocol-level error kind as defined by RFC 6749 and
// OpenID Connect Core. Flow state machines return these up to the transport
// boundary rather than throwing through handler stacks.
type ErrorCode string

const (
	ErrorInvalidRequest       ErrorCode = "invalid_request"
	ErrorInvalidClient        ErrorCode = "invalid_client"
	ErrorInvalidGrant         ErrorCode = "invalid_grant"
	ErrorAccessDenied         ErrorCode = "access_denied"
	ErrorLoginRequired        ErrorCode = "login_required"
	ErrorInvalidToken         ErrorCode = "invalid_token"
	ErrorUnsupportedGrantType ErrorCode = "unsupported_grant_type"
	ErrorServerError          ErrorCode = "server_error"
)

// Error is the terminal outcome of a failed flow, rendered verbatim as the
// OAuth error JSON body. Internal identifiers never appear in Description.
type Error struct {
	Code        ErrorCode `json:"error"`
	Description string    `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Description
}

// NewError creates a protocol error with the given kind and description.
func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

// AsError extracts a protocol error from an error chain. A false return
// means the failure is infrastructural and must surface as a generic 5xx.
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// HTTPStatus maps the error kind to the status code used at the transport
// boundary.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrorInvalidClient:
		return http.StatusUnauthorized
	case ErrorLoginRequired:
		return http.StatusUnauthorized
	case ErrorAccessDenied:
		return http.StatusForbidden
	case ErrorInvalidToken:
		return http.StatusUnauthorized
	case ErrorServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
