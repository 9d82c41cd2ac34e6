package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the category of a gateway failure.
type Kind string

// Error kinds. Exactly one applies to any failed call.
const (
	KindAuthExpired        Kind = "auth_expired"
	KindAuthRetryExhausted Kind = "auth_retry_exhausted"
	KindClientError        Kind = "client_error"
	KindServerError        Kind = "server_error"
	KindNetworkError       Kind = "network_error"
	KindUnexpectedError    Kind = "unexpected_error"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrAuthExpired is returned when the session could not be refreshed.
	ErrAuthExpired = errors.New("session expired")

	// ErrAuthRetryExhausted is returned when a call is still unauthorized
	// after being replayed with a refreshed token.
	ErrAuthRetryExhausted = errors.New("session rejected after refresh")

	// ErrClient matches every 4xx ClientError.
	ErrClient = errors.New("client error")

	// ErrBadRequest matches a 400 response.
	ErrBadRequest = errors.New("bad request")

	// ErrForbidden matches a 403 response.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound matches a 404 response.
	ErrNotFound = errors.New("not found")

	// ErrValidation matches a 422 response.
	ErrValidation = errors.New("validation failed")

	// ErrServer matches every 5xx response.
	ErrServer = errors.New("server error")

	// ErrNetwork is returned when no response was received.
	ErrNetwork = errors.New("network error")

	// ErrUnexpected is returned for anything outside the other categories.
	ErrUnexpected = errors.New("unexpected error")
)

// Error is the normalized failure of a gateway call.
type Error struct {
	// Kind is the failure category.
	Kind Kind
	// Status is the HTTP status, or 0 when no response was received.
	Status int
	// Message is human readable, taken from the server when it sent one.
	Message string
	// Err is the underlying transport or decoding error, if any.
	Err error
}

// Error returns the error message.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches one of the package sentinels.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindAuthExpired:
		return target == ErrAuthExpired
	case KindAuthRetryExhausted:
		return target == ErrAuthRetryExhausted
	case KindClientError:
		if target == ErrClient {
			return true
		}
		switch e.Status {
		case http.StatusBadRequest:
			return target == ErrBadRequest
		case http.StatusForbidden:
			return target == ErrForbidden
		case http.StatusNotFound:
			return target == ErrNotFound
		case http.StatusUnprocessableEntity:
			return target == ErrValidation
		}
		return false
	case KindServerError:
		return target == ErrServer
	case KindNetworkError:
		return target == ErrNetwork
	case KindUnexpectedError:
		return target == ErrUnexpected
	}
	return false
}

// KindOf returns the Kind of err, or "" when err is not a gateway error.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// defaultMessage is shown when the server did not explain a failure.
func defaultMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "the request was invalid"
	case http.StatusUnauthorized:
		return "authentication required"
	case http.StatusForbidden:
		return "you do not have permission to perform this action"
	case http.StatusNotFound:
		return "the requested resource was not found"
	case http.StatusConflict:
		return "the request conflicts with the current state of the resource"
	case http.StatusUnprocessableEntity:
		return "the submitted data failed validation"
	case http.StatusTooManyRequests:
		return "too many requests, try again later"
	}
	switch {
	case status >= 500:
		return "the server encountered an error, try again later"
	case status >= 400:
		return "the request could not be completed"
	default:
		return http.StatusText(status)
	}
}

// serverMessage extracts a human readable message from an error body.
// Understands the auth and course services' {"detail": "..."}, their
// validation form {"detail": [{"msg": "..."}]}, and the API gateway's
// {"error": "...", "detail": "..."}.
func serverMessage(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return ""
	}

	if len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil && s != "" {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
			Loc []any  `json:"loc"`
		}
		if json.Unmarshal(payload.Detail, &items) == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg == "" {
					continue
				}
				if field := fieldName(it.Loc); field != "" {
					msgs = append(msgs, field+": "+it.Msg)
				} else {
					msgs = append(msgs, it.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

// fieldName returns the last string element of a validation location,
// e.g. ["body", "email"] -> "email".
func fieldName(loc []any) string {
	for i := len(loc) - 1; i >= 0; i-- {
		if s, ok := loc[i].(string); ok && s != "body" && s != "query" && s != "path" {
			return s
		}
	}
	return ""
}
