package platform

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for the fatal/non-fatal policy applied by the
// orchestrator and comparator.
type Kind string

const (
	// KindAuthentication means the credential itself is invalid or expired.
	// Fatal to the whole run.
	KindAuthentication Kind = "authentication_failure"

	// KindAuthorization means the credential lacks a specific scope.
	// Fatal only to the specific optional step (tagging, grants).
	KindAuthorization Kind = "authorization_shortfall"

	// KindNotFound means a referenced group/project/repository is absent.
	// Fatal to the specific mapping.
	KindNotFound Kind = "not_found"

	// KindAlreadyExists marks an idempotent create. Downgraded to a warning.
	KindAlreadyExists Kind = "already_exists"

	// KindRateLimited is handled internally via mandatory waits and only
	// surfaces once retries are exhausted.
	KindRateLimited Kind = "rate_limited"

	// KindTransient covers network failures and 5xx responses. Retried;
	// mapping-fatal after retry exhaustion.
	KindTransient Kind = "transient_network"

	// KindLocalTool means the git mirror/push invocation failed.
	// Fatal to the mapping; the working directory is still cleaned up.
	KindLocalTool Kind = "local_tool_failure"

	// KindConfiguration covers ambiguous naming collisions and missing
	// required fields. Fatal before any mapping is attempted.
	KindConfiguration Kind = "configuration_error"

	// KindInvalidRequest is the fallback for 4xx responses that fit no
	// other bucket (payload validation rejections and similar).
	KindInvalidRequest Kind = "invalid_request"
)

// Error is a classified failure. Op names the operation that failed
// ("gitlab: list branches", "git push"), Status carries the HTTP status
// when one was observed.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Message == "" && e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error without an HTTP status.
func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// KindOf extracts the classification from err, or "" when err carries none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ClassifyStatus maps an HTTP status to an error kind. Connectors may
// refine the result for specific operations (e.g. a 422 on create meaning
// the repository already exists).
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindAlreadyExists
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindInvalidRequest
	default:
		return ""
	}
}
