// Package pkgerrors implements the pipeline's sum-typed error taxonomy:
// every failure is tagged with a Kind, and IsRetryable/IsTerminal classify
// it as retryable, terminal, or merely advisory. The pipeline logs the Kind
// when a document fails and moves its FileRecord to Failed whatever the
// Kind; a Failed record is processed again on a later ProcessFile while
// ledger attempts remain, with no backoff delay.
package pkgerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the eight error kinds the pipeline recognizes.
type Kind string

const (
	// Transient covers I/O, network, LLM transient errors, and database
	// deadlocks. The only kind IsRetryable reports as retryable.
	Transient Kind = "Transient"

	// EncodingIssue is a decoding failure after all fallback encodings
	// have been tried. Terminal.
	EncodingIssue Kind = "EncodingIssue"

	// ParseError is a malformed file the Parser could not make sense of.
	// Terminal.
	ParseError Kind = "ParseError"

	// ClassificationLow means the classifier's best confidence fell below
	// the configured minimum. Not a failure: the document is persisted as
	// Other with a Medium-severity audit entry.
	ClassificationLow Kind = "ClassificationLow"

	// ExtractionIncomplete means one or more required fields are missing.
	// Not a failure: the document persists with the fields it has.
	ExtractionIncomplete Kind = "ExtractionIncomplete"

	// ValidationInconsistent flags an identity or tolerance violation.
	// Not a failure: the row persists with Inconsistent status and feeds
	// the ReconciliationEngine.
	ValidationInconsistent Kind = "ValidationInconsistent"

	// PersistenceConflict is a duplicate doc_id observed at write time.
	// The ledger entry moves to Skipped, not Failed.
	PersistenceConflict Kind = "PersistenceConflict"

	// Fatal covers programming and invariant violations. Terminal.
	Fatal Kind = "Fatal"
)

// PipelineError is the concrete error type every component returns for a
// document-scoped failure. DocID is empty when the error predates doc_id
// assignment (e.g. a Parser failure before classification).
type PipelineError struct {
	Kind    Kind
	DocID   string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.DocID != "" {
		if e.Err != nil {
			return fmt.Sprintf("[%s] doc=%s: %s: %v", e.Kind, e.DocID, e.Message, e.Err)
		}
		return fmt.Sprintf("[%s] doc=%s: %s", e.Kind, e.DocID, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether this error's Kind warrants an automatic retry.
// Only Transient is retryable; every other kind is either terminal or
// advisory-and-already-handled by the caller.
func (e *PipelineError) IsRetryable() bool {
	return e.Kind == Transient
}

// IsTerminal reports whether this error's Kind is classified terminal
// (EncodingIssue, ParseError, Fatal).
func (e *PipelineError) IsTerminal() bool {
	switch e.Kind {
	case EncodingIssue, ParseError, Fatal:
		return true
	default:
		return false
	}
}

// New constructs a PipelineError with no wrapped cause.
func New(kind Kind, docID, message string) *PipelineError {
	return &PipelineError{Kind: kind, DocID: docID, Message: message}
}

// Wrap constructs a PipelineError around an existing error, preserving it
// for errors.Unwrap/errors.Is/errors.As chains.
func Wrap(kind Kind, docID, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, DocID: docID, Message: message, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *PipelineError;
// otherwise it classifies unknown errors as Transient, since an
// unrecognized error from an external dependency (I/O, driver) is safer to
// retry than to treat as terminal.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Transient
}

// DocIDOf extracts the DocID from err if present.
func DocIDOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.DocID
	}
	return ""
}
