package synoapi

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags an Error so callers can branch without matching message text.
type Kind string

const (
	KindTransport          Kind = "transport"
	KindBackend            Kind = "backend"
	KindValidation         Kind = "validation"
	KindTaskStartFailed    Kind = "task_start_failed"
	KindTaskFailed         Kind = "task_failed"
	KindTaskTimedOut       Kind = "task_timed_out"
	KindNotFound           Kind = "not_found"
	KindDestinationMissing Kind = "destination_missing"
	KindNoActiveSession    Kind = "no_active_session"
	KindAuthLocked         Kind = "auth_locked"
)

// ItemError is one entry of the per-item error list some APIs attach to a
// failed envelope.
type ItemError struct {
	Code int    `json:"code"`
	Path string `json:"path,omitempty"`
}

// Error is the single error type produced by this module's NAS layers.
//
//	var apiErr *synoapi.Error
//	if errors.As(err, &apiErr) && apiErr.Kind == synoapi.KindBackend { ... }
type Error struct {
	Kind Kind
	// Code is the backend error code; zero when the failure never reached
	// the backend.
	Code int
	// Op names the API call or domain operation that failed.
	Op          string
	Detail      string
	Items       []ItemError
	Suggestions []string
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != 0 {
		fmt.Fprintf(&b, " %d (%s)", e.Code, Describe(e.Op, e.Code))
	}
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Items) > 0 {
		parts := make([]string, 0, len(e.Items))
		for _, item := range e.Items {
			part := fmt.Sprintf("Code %d", item.Code)
			if item.Path != "" {
				part += " for path: " + item.Path
			}
			parts = append(parts, part)
		}
		b.WriteString(" - Details: ")
		b.WriteString(strings.Join(parts, "; "))
	}
	if e.Err != nil && e.Detail == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// CodeOf returns the backend code of the first *Error in err's chain.
func CodeOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// Validationf builds a validation error. Validation errors are raised before
// any network call.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error for a lookup that returned no item.
func NotFoundf(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// TransportErr wraps a network or HTTP-layer failure.
func TransportErr(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// fallbackCodes mean the endpoint runs older firmware that lacks the
// requested API, method or version.
var fallbackCodes = map[int]bool{
	102: true,
	103: true,
	104: true,
}

// sessionGoneCodes mean the session is expired, superseded or unknown.
var sessionGoneCodes = map[int]bool{
	105: true,
	106: true,
	107: true,
	119: true,
}

// sessionExpiredCodes are the subset of sessionGoneCodes that, returned from
// an ordinary call, prove the token itself is dead.
var sessionExpiredCodes = map[int]bool{
	106: true,
	107: true,
	119: true,
}

// IsFallbackCode reports whether err is a backend rejection that warrants
// retrying against an older API version.
func IsFallbackCode(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindBackend {
		return false
	}
	return fallbackCodes[apiErr.Code]
}

// IsSessionGoneCode reports whether code says the session no longer exists
// on the backend.
func IsSessionGoneCode(code int) bool {
	return sessionGoneCodes[code]
}

// IsSessionExpiredCode reports whether code, returned from a regular call,
// means the token used for it is no longer valid.
func IsSessionExpiredCode(code int) bool {
	return sessionExpiredCodes[code]
}

// IsAuthFailureCode reports whether code is an authentication rejection from
// SYNO.API.Auth (bad account, disabled account, 2FA, blocked IP).
func IsAuthFailureCode(code int) bool {
	return code >= 400 && code <= 410
}
