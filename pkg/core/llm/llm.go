// Package llm defines the LLMClient capability the pipeline consumes for
// classification fallback and field extraction, plus a concrete
// implementation backed by Gemini with a global concurrency cap and
// token-bucket rate limiting, per §5/§6.
package llm

import (
	"context"
	"errors"
)

// FailureKind is the three-way failure taxonomy the capability interface
// exposes; CallError.Retryable reports RateLimited and Transient as
// retryable, Invalid as not. Classifier and ExtractorChain make one call
// and fall back on any error without retrying.
type FailureKind string

const (
	RateLimited FailureKind = "RateLimited"
	Transient   FailureKind = "Transient"
	Invalid     FailureKind = "Invalid"
)

// CallError wraps an LLMClient failure with its FailureKind.
type CallError struct {
	Kind FailureKind
	Err  error
}

func (e *CallError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *CallError) Unwrap() error { return e.Err }

// Retryable reports whether the caller should retry this call.
func (e *CallError) Retryable() bool {
	return e.Kind == RateLimited || e.Kind == Transient
}

// KindOf extracts the FailureKind from err, defaulting to Transient for
// errors that did not originate as a *CallError.
func KindOf(err error) FailureKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Transient
}

// TableExcerpt is the bounded table payload passed to ExtractFields (at
// most 3 tables per §4.6).
type TableExcerpt struct {
	Headers []string
	Rows    [][]string
}

// ClassifyResult is the LLMClient's classification fallback answer.
type ClassifyResult struct {
	DocType    string
	Confidence float64
}

// Client is the capability interface the core consumes. Implementations
// must treat ctx cancellation as a hard deadline (the pipeline sets
// per-stage LLM call deadlines, default 45s).
type Client interface {
	// Classify returns a best-guess document type and confidence for the
	// given text excerpt and filename.
	Classify(ctx context.Context, textExcerpt, filename string) (ClassifyResult, error)

	// ExtractFields asks the model to populate every field in catalog from
	// the given text and up to three tables, returning a map keyed by
	// field name with string values (further normalized by the caller
	// through the same path as the deterministic extractors).
	ExtractFields(ctx context.Context, catalog []string, text string, tables []TableExcerpt) (map[string]string, error)
}
