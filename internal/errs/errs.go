// Package errs defines the closed error taxonomy used across OmniMem and a
// shared substring-classification engine used by both the sync daemon's
// Git error classifier and the orchestrator's transient-tool classifier.
package errs

import "fmt"

// Kind is the closed sum type of error categories from spec.md §7.
type Kind string

const (
	KindInvalidArgument   Kind = "InvalidArgument"
	KindNotFound          Kind = "NotFound"
	KindIntegrityMismatch Kind = "IntegrityMismatch"
	KindLogCorruption     Kind = "LogCorruption"
	KindTransientExternal Kind = "TransientExternal"
	KindPermanentExternal Kind = "PermanentExternal"
	KindPolicyDenied      Kind = "PolicyDenied"
)

// Error is the structured error every OmniMem operation returns. It always
// carries a Kind and, where known, a RemediationHint a caller can surface
// verbatim.
type Error struct {
	Kind            Kind
	Message         string
	RemediationHint string
	Cause           error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithHint attaches a remediation hint and returns the same error for
// chaining at the construction site.
func (e *Error) WithHint(hint string) *Error {
	e.RemediationHint = hint
	return e
}

// Result is the structured, user-visible outcome of any operation that can
// fail without aborting a larger pass (spec.md §7 "Propagation").
type Result struct {
	OK              bool   `json:"ok"`
	Message         string `json:"message,omitempty"`
	ErrorKind       Kind   `json:"error_kind,omitempty"`
	RemediationHint string `json:"remediation_hint,omitempty"`
}

// FromError builds a Result from an error, unwrapping *Error for its kind
// and hint when possible.
func FromError(err error) Result {
	if err == nil {
		return Result{OK: true}
	}
	var oe *Error
	if asErr(err, &oe) {
		return Result{OK: false, Message: oe.Message, ErrorKind: oe.Kind, RemediationHint: oe.RemediationHint}
	}
	return Result{OK: false, Message: err.Error()}
}

func asErr(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
