package errors

import (
	"fmt"
	"strings"
	"time"

	"multiapi-go/internal/provider"
)

// Kind classifies a transport failure for the retry machinery.
type Kind string

const (
	// KindTransient marks failures worth another attempt: rate limits,
	// timeouts, connection trouble, upstream 5xx.
	KindTransient Kind = "transient"
	// KindPermanent marks failures that repeat on retry: auth
	// rejections, malformed payloads.
	KindPermanent Kind = "permanent"
)

// TransportError is a classified upstream failure for one attempt.
type TransportError struct {
	Provider  provider.Provider
	KeySuffix string
	Status    int // HTTP status, 0 for pure network failures
	Kind      Kind
	Message   string
	Err       error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s failure", e.Provider, e.KeySuffix, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the fallback machinery may try again.
func (e *TransportError) Retryable() bool { return e.Kind == KindTransient }

// NoEligibleCredentialError reports a pool with nothing selectable:
// every record is inactive, at its limit, or reserved up to it.
type NoEligibleCredentialError struct {
	Provider provider.Provider
}

func (e *NoEligibleCredentialError) Error() string {
	return fmt.Sprintf("no eligible credential for provider %s", e.Provider)
}

// ConfigurationError is raised at construction time, before any
// request is processed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a failed state write. It is logged by the
// quota tracker and never fails an in-flight request.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// AttemptCause is one entry of the ordered fallback trail.
type AttemptCause struct {
	ID        string
	Provider  provider.Provider
	KeySuffix string
	Err       error
	Latency   time.Duration
}

// ExhaustedError aggregates every attempt of a failed request.
// Attempts lists transport attempts in order; Skipped lists providers
// that had no eligible credential to offer.
type ExhaustedError struct {
	Attempts []AttemptCause
	Skipped  []*NoEligibleCredentialError
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all providers exhausted after %d attempt(s)", len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s %s: %v", a.Provider, a.KeySuffix, a.Err)
	}
	for _, s := range e.Skipped {
		fmt.Fprintf(&b, "; %s: no eligible credential", s.Provider)
	}
	return b.String()
}

// Unwrap exposes every cause to errors.Is and errors.As.
func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts)+len(e.Skipped))
	for _, a := range e.Attempts {
		out = append(out, a.Err)
	}
	for _, s := range e.Skipped {
		out = append(out, s)
	}
	return out
}
