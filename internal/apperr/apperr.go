// Package apperr holds the error taxonomy shared by every stage of the
// generation pipeline. Each kind carries a stable numeric code and an HTTP
// status so handlers never have to inspect error strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuth
	KindRateLimit
	KindUpstream
	KindGeneration
	KindInvalid
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindUpstream:
		return "upstream"
	case KindGeneration:
		return "generation"
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Stable codes returned in the response envelope.
const (
	CodeInvalidJSON   = 10001
	CodeInvalidKind   = 10002
	CodeInvalidNodeID = 10004
	CodeUnauthorized  = 40101
	CodeNotFound      = 40401
	CodeRateLimited   = 42901
	CodeInternal      = 50001
	CodeUpstream      = 50201
	CodeGeneration    = 50202
)

type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, apperr.ErrRateLimit).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil && t.Message == ""
}

// HTTPStatus maps the kind onto the response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindUpstream, KindGeneration:
		return http.StatusBadGateway
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is.
var (
	ErrAuth       = &Error{Kind: KindAuth}
	ErrRateLimit  = &Error{Kind: KindRateLimit}
	ErrUpstream   = &Error{Kind: KindUpstream}
	ErrGeneration = &Error{Kind: KindGeneration}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

func Auth(msg string, err error) *Error {
	return &Error{Kind: KindAuth, Code: CodeUnauthorized, Message: msg, Err: err}
}

func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimit, Code: CodeRateLimited, Message: msg}
}

func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: CodeUpstream, Message: msg, Err: err}
}

func Generation(msg string, err error) *Error {
	return &Error{Kind: KindGeneration, Code: CodeGeneration, Message: msg, Err: err}
}

func Invalid(code int, msg string) *Error {
	return &Error{Kind: KindInvalid, Code: code, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg}
}

// From returns err as an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}
