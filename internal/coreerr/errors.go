// Package coreerr defines the typed error taxonomy shared by every core
// component, so that startup failures and store/client errors can be
// reported to the UI collaborator with a stable code instead of a
// free-text message.
package coreerr

import "fmt"

// Code identifies one member of the error taxonomy.
type Code string

const (
	// Environment errors, surfaced from startup stage 2 pre-flight.
	RuntimeMissing       Code = "RUNTIME_MISSING"
	DependenciesMissing  Code = "DEPENDENCIES_MISSING"
	VersionIncompatible  Code = "VERSION_INCOMPATIBLE"

	// Subprocess errors, from the Embedder Service.
	SidecarStartFailed Code = "SIDECAR_START_FAILED"
	SidecarNotHealthy  Code = "SIDECAR_NOT_HEALTHY"

	// Client errors, from the Embedder Client.
	NetworkError Code = "NETWORK_ERROR"
	Timeout      Code = "TIMEOUT"
	HTTPError    Code = "HTTP_ERROR"
	ParseError   Code = "PARSE_ERROR"

	// Parser errors, per-file.
	ParseFailed Code = "PARSE_FAILED"

	// Store errors.
	SchemaMismatch Code = "SCHEMA_MISMATCH"
	WriteFailed    Code = "WRITE_FAILED"
	OpenFailed     Code = "OPEN_FAILED"

	// Startup errors.
	StartupTimeout    Code = "STARTUP_TIMEOUT"
	EmbedderInitFailed Code = "EMBEDDER_INIT_FAILED"
)

// Error is a typed, wrapped error carrying one taxonomy Code plus optional
// remediation detail and an underlying cause.
type Error struct {
	Code    Code
	Message string
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a typed error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs a typed error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetail attaches remediation text appropriate to development vs.
// packaged builds and returns the same error for chaining.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// CodeOf extracts the taxonomy Code from err, or "" if err is not (or does
// not wrap) a *Error.
func CodeOf(err error) Code {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Code
}

// IsCode reports whether err carries the given taxonomy Code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
