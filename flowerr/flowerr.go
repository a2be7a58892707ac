// Package flowerr defines the error taxonomy shared by every FlowLLM
// component. Errors are typed values rather than strings so that OpRuntime's
// retry classification, the Parallel combinator's failure policy, and the
// HTTP/MCP service transport mapping can all branch on Kind without parsing
// messages.
package flowerr

import (
	"errors"
	"fmt"
)

// Kind classifies a FlowLLM error for retry and transport-mapping purposes.
type Kind string

const (
	// KindInputValidation: request missing a required schema field, wrong
	// type, or (MCP only) an unknown field. Never retried.
	KindInputValidation Kind = "input_validation"
	// KindUnknownFlow: the dispatcher has no flow registered under the name.
	KindUnknownFlow Kind = "unknown_flow"
	// KindUnknownOp: the Registry has no Op constructor under the name.
	KindUnknownOp Kind = "unknown_op"
	// KindUnknownResource: the Registry has no LLM/EmbeddingModel/VectorStore
	// constructor under the requested (or default) name.
	KindUnknownResource Kind = "unknown_resource"
	// KindTimeout: a deadline (service-level or join-level) elapsed.
	KindTimeout Kind = "timeout"
	// KindCancelled: the Context's cancellation token fired for a reason
	// other than timeout (client disconnect, sibling failure, explicit cancel).
	KindCancelled Kind = "cancelled"
	// KindTransient: underlying provider I/O error, rate limit, 5xx. Retried
	// up to an Op's max_retries.
	KindTransient Kind = "transient"
	// KindDeterministic: an Op explicitly gave up (e.g. an assertion inside
	// async_execute). Never retried.
	KindDeterministic Kind = "deterministic"
)

// Error is the structured error type returned by every FlowLLM component.
// It preserves message and causal context while still implementing the
// standard error interface, the way toolerrors.ToolError does in the agent
// runtime this package is modeled on.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind around an existing error,
// preserving it as the Cause for errors.Is/As and errors.Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, flowerr.New(flowerr.KindTimeout, "")) style checks work
// without comparing messages.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the Kind of err, walking the unwrap chain. It returns
// ("", false) if err does not contain a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether an error of this kind should be retried by
// OpRuntime's execute-with-retries loop (§4.2 step 4 of the spec): only
// transient provider failures are retried; validation, timeout, cancellation
// and deterministic failures are not.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		// Unclassified errors from user Op code are treated as transient so
		// a flaky Op still benefits from the retry budget.
		return true
	}
	return kind == KindTransient
}
