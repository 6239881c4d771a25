// Package apperrors provides the Kind-tagged error type shared by every
// layer of the program-management service, modeled on the sentinel-error
// style of the service's auth package but upgraded to carry a machine
// readable Kind so the REST layer can do conventional status mapping
// without string-matching error text.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing and HTTP status mapping purposes.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindValidation          Kind = "validation"
	KindAuthorization       Kind = "authorization"
	KindCyclicNetwork       Kind = "cyclic_network"
	KindSyncDisabled        Kind = "sync_disabled"
	KindIntegrationNotFound Kind = "integration_not_found"
	KindJiraTransport       Kind = "jira_transport"
	KindTransient           Kind = "transient"
	KindConflict            Kind = "conflict"
)

// Error is the structured error type surfaced across package boundaries.
// Cause is preserved via Unwrap so callers can still errors.Is/As against
// underlying driver errors (pgx, redis, http) while routing on Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Code    string // optional machine-readable sub-code, e.g. "negative_duration"
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func NotFound(msg string) *Error              { return newError(KindNotFound, "", msg, nil) }
func Validation(code, msg string) *Error      { return newError(KindValidation, code, msg, nil) }
func Authorization(msg string) *Error         { return newError(KindAuthorization, "", msg, nil) }
func CyclicNetwork(msg string) *Error         { return newError(KindCyclicNetwork, "", msg, nil) }
func SyncDisabled(msg string) *Error          { return newError(KindSyncDisabled, "", msg, nil) }
func IntegrationNotFound(msg string) *Error   { return newError(KindIntegrationNotFound, "", msg, nil) }
func JiraTransport(msg string, cause error) *Error {
	return newError(KindJiraTransport, "", msg, cause)
}
func Transient(msg string, cause error) *Error { return newError(KindTransient, "", msg, cause) }
func Conflict(msg string) *Error               { return newError(KindConflict, "", msg, nil) }

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or "" if err is not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
