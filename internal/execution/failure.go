package execution

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Execution failure taxonomy
// ---------------------------------------------------------------------------

// FailureKind classifies why an execution attempt did not produce a fill.
type FailureKind string

const (
	// KindQuoteUnavailable: no route, unknown token, or the quote
	// provider refused the request. Not worth retrying blindly.
	KindQuoteUnavailable FailureKind = "QUOTE_UNAVAILABLE"

	// KindSlippageExceeded: implied price impact breached the configured
	// bound. Rejected before anything reached the chain.
	KindSlippageExceeded FailureKind = "SLIPPAGE_EXCEEDED"

	// KindOnChainRejected: the transaction was submitted and the chain
	// rejected it.
	KindOnChainRejected FailureKind = "ONCHAIN_REJECTED"

	// KindTimeout: the attempt exceeded its deadline before confirming.
	KindTimeout FailureKind = "TIMEOUT"

	// KindTransientNetwork: connection resets, 429s, 5xx responses.
	KindTransientNetwork FailureKind = "TRANSIENT_NETWORK"
)

// Failure is a typed execution error. Callers branch on Kind or use
// Retryable to decide whether another attempt can help.
type Failure struct {
	Kind FailureKind
	Op   string // quote|swap|send|confirm
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("execution: %s during %s", f.Kind, f.Op)
	}
	return fmt.Sprintf("execution: %s during %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether another attempt has a chance of succeeding.
// Only time-local conditions qualify; a missing route or a breached
// slippage bound will not fix itself within a retry budget.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case KindTimeout, KindTransientNetwork:
		return true
	default:
		return false
	}
}

func newFailure(kind FailureKind, op string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the failure kind from an error chain, or "" when the
// error is not an execution failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
