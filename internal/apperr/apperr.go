// internal/apperr/apperr.go
//
// Error taxonomy shared by the resolver, the connection factory, the
// provider gateway, and the HTTP layer.
//
// Context
// -------
// The console must let the UI tell four situations apart: “fix your
// input”, “retry later”, “this contact’s window is closed”, and “this
// tenant has no provider configured”.  Every failure that crosses a package
// boundary is therefore an *Error carrying a Kind.  The HTTP layer maps the
// Kind to a stable machine code and status via Code() and HTTPStatus(); no
// handler inspects error strings.
//
// Notes
// -----
//   - *Error wraps its cause, so errors.Is / errors.As keep working.
//   - Error() never includes provider bodies or credentials.
//   - Oxford commas, two spaces after periods.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind int

const (
	Internal Kind = iota
	InvalidRequest
	TenantNotFound
	RegistryUnavailable
	ConnectionFailed
	ProviderConfigIncomplete
	ProviderRejected
	GroupLookupFailed
	WindowClosed
	RateLimited
)

var kindCodes = map[Kind]string{
	Internal:                 "internal",
	InvalidRequest:           "invalid_request",
	TenantNotFound:           "tenant_not_found",
	RegistryUnavailable:      "registry_unavailable",
	ConnectionFailed:         "connection_failed",
	ProviderConfigIncomplete: "provider_not_configured",
	ProviderRejected:         "provider_rejected",
	GroupLookupFailed:        "group_lookup_failed",
	WindowClosed:             "session_window_closed",
	RateLimited:              "rate_limited",
}

// String returns the stable machine code for k.
func (k Kind) String() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[Internal]
}

// Retryable reports whether the caller may retry the same request later
// without changing it.
func (k Kind) Retryable() bool {
	switch k {
	case RegistryUnavailable, ConnectionFailed, GroupLookupFailed, RateLimited, Internal:
		return true
	}
	return false
}

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Op      string        // "registry.resolve", "provider.send", …
	Tenant  string        // tenant code when known
	Elapsed time.Duration // set for infrastructure failures
	Status  int           // provider HTTP status for ProviderRejected
	Body    []byte        // provider error body for ProviderRejected
	Missing []string      // missing setting keys for ProviderConfigIncomplete
	Msg     string        // safe, user-facing text
	Err     error         // underlying cause
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" [" + e.Op + "]")
	}
	if e.Tenant != "" {
		b.WriteString(" tenant=" + e.Tenant)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if len(e.Missing) > 0 {
		b.WriteString(" missing=" + strings.Join(e.Missing, ","))
	}
	if e.Msg != "" {
		b.WriteString(": " + e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so callers can write
// errors.Is(err, apperr.E(apperr.TenantNotFound)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// E returns a bare *Error of kind k, handy as an errors.Is target.
func E(k Kind) *Error { return &Error{Kind: k} }

// New builds an *Error with a safe message.
func New(k Kind, op, msg string) *Error {
	return &Error{Kind: k, Op: op, Msg: msg}
}

// Wrap builds an *Error around cause.
func Wrap(k Kind, op string, cause error) *Error {
	return &Error{Kind: k, Op: op, Err: cause}
}

// KindOf extracts the Kind of err, or Internal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// As is a typed shorthand for errors.As.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// HTTPStatus maps err to a response status.  ProviderRejected reuses the
// provider’s own status when it is a valid error status.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case InvalidRequest:
		return http.StatusBadRequest
	case TenantNotFound:
		return http.StatusNotFound
	case RegistryUnavailable:
		return http.StatusServiceUnavailable
	case ConnectionFailed:
		return http.StatusInternalServerError
	case ProviderConfigIncomplete:
		return http.StatusUnprocessableEntity
	case ProviderRejected:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusBadGateway
	case GroupLookupFailed:
		return http.StatusBadGateway
	case WindowClosed:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// SafeMessage returns text suitable for the UI.  Infrastructure failures
// collapse to a generic sentence so nothing internal leaks.
func SafeMessage(err error) string {
	e, ok := As(err)
	if !ok {
		return "internal error"
	}
	switch e.Kind {
	case InvalidRequest, WindowClosed, RateLimited:
		if e.Msg != "" {
			return e.Msg
		}
	case TenantNotFound:
		return "unknown tenant"
	case RegistryUnavailable, ConnectionFailed, GroupLookupFailed:
		return "temporarily unavailable, retry later"
	case ProviderConfigIncomplete:
		return "messaging provider is not configured for this tenant"
	case ProviderRejected:
		return "the messaging provider rejected the request"
	}
	return "internal error"
}
