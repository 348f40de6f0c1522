// Package contract defines the governance error taxonomy shared by the
// ingestion engines, the model policy, and the query pipeline. Each kind is a
// distinct type so callers can branch with [errors.As] instead of string
// matching, and each carries an optional cause reachable via Unwrap.
package contract

import "fmt"

// PreconditionError reports that caller-supplied input failed a documented
// contract rule before any write happened. Safe to retry after fixing the
// input.
type PreconditionError struct {
	// Reason describes which rule was violated and how.
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition violated: " + e.Reason
}

// Preconditionf constructs a PreconditionError from a format string.
func Preconditionf(format string, args ...any) *PreconditionError {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

// PostconditionError reports that an operation executed but its outcome
// failed an invariant it promised. Signals an inconsistency between the
// operation and the store; not safe to blindly retry.
type PostconditionError struct {
	// Reason describes the promised invariant and the observed outcome.
	Reason string
}

func (e *PostconditionError) Error() string {
	return "postcondition violated: " + e.Reason
}

// Postconditionf constructs a PostconditionError from a format string.
func Postconditionf(format string, args ...any) *PostconditionError {
	return &PostconditionError{Reason: fmt.Sprintf(format, args...)}
}

// ConfigViolationError reports that a forbidden or unsafe language-model
// configuration was requested. Raised before any external call is made.
type ConfigViolationError struct {
	// Reason names the ceiling that was exceeded.
	Reason string
}

func (e *ConfigViolationError) Error() string {
	return "config violation: " + e.Reason
}

// ConfigViolationf constructs a ConfigViolationError from a format string.
func ConfigViolationf(format string, args ...any) *ConfigViolationError {
	return &ConfigViolationError{Reason: fmt.Sprintf(format, args...)}
}

// IngestError reports a failure during the write phase of an ingestion.
// By the time callers see it, partial writes scoped by the transaction
// identifier have already been cleaned up.
type IngestError struct {
	// Reason gives the ingestion context (source path, phase).
	Reason string
	// Err is the underlying failure.
	Err error
}

func (e *IngestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest failed (rolled back): %s: %v", e.Reason, e.Err)
	}
	return "ingest failed (rolled back): " + e.Reason
}

// Unwrap returns the underlying failure for errors.Is / errors.As chains.
func (e *IngestError) Unwrap() error { return e.Err }

// Ingestf constructs an IngestError wrapping err.
func Ingestf(err error, format string, args ...any) *IngestError {
	return &IngestError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// ValidationError reports that a newly ingested document version failed
// quality validation. The new version has been deleted; the previously
// active version is untouched and still serving queries.
type ValidationError struct {
	// Reason describes the failed quality check.
	Reason string
}

func (e *ValidationError) Error() string {
	return "version validation failed: " + e.Reason
}

// Validationf constructs a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
