package llm

import (
	"context"
	"errors"
	"strings"
)

// Sentinel error kinds the rest of the service switches on. Providers and
// stores wrap the underlying cause with these via fmt.Errorf("...: %w", ...)
// so errors.Is still sees through to ErrTransient/ErrPermanent etc.
var (
	// ErrTransient marks an upstream I/O glitch (LLM 5xx, cache disconnect)
	// eligible for retry with backoff at the client-of-dependency boundary.
	ErrTransient = errors.New("transient")
	// ErrPermanent marks a configuration or data-integrity issue; the process
	// fails startup or the request returns 500.
	ErrPermanent = errors.New("permanent")
	// ErrSchemaViolation marks a structured-output response that failed to
	// parse against the requested JSON schema after retrying.
	ErrSchemaViolation = errors.New("schema violation")
	// ErrIterationLimitExceeded marks a workflow that ran past max_iterations.
	ErrIterationLimitExceeded = errors.New("iteration limit exceeded")
	// ErrToolLoopExhausted marks an agent that exhausted its tool-call budget
	// without producing a final answer.
	ErrToolLoopExhausted = errors.New("tool loop exhausted")
)

// Classify reports whether err should be treated as transient (retriable) or
// permanent. Timeouts and context cancellation are treated as transient at
// the invocation boundary per the error taxonomy. Unrecognized errors
// default to permanent: the caller decides whether to surface a 500 or fail
// the workflow rather than silently retrying something unknown.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTransient
	}
	if errors.Is(err, ErrPermanent) {
		return ErrPermanent
	}
	if looksTransient(err) {
		return ErrTransient
	}
	return ErrPermanent
}

// IsTransient is a convenience wrapper around Classify for call sites that
// only need the boolean.
func IsTransient(err error) bool {
	return Classify(err) == ErrTransient
}

// looksTransient performs the same text heuristic the command-handling path
// used before moving to a typed taxonomy: upstream error strings rarely come
// pre-classified, so substring matching on common transport phrasing is the
// pragmatic fallback once errors.Is finds nothing typed.
func looksTransient(err error) bool {
	s := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"temporarily unavailable",
		"temporary",
		"transient",
		"retry",
		"too many requests",
		"connection reset",
		"connection refused",
		"eof",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
