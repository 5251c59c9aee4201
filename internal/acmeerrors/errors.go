// Package acmeerrors implements the error taxonomy of spec §7: every
// operation in the daemon returns one of a small set of typed errors so that
// the transport and scheduler can decide, without inspecting strings,
// whether a failure is retryable, rate-limited, or fatal.
package acmeerrors

import (
	"fmt"
	"time"

	"github.com/letsencrypt/acmed/internal/probs"
)

// Kind is a coarse category for AcmedError, mirroring the teacher's
// BoulderError.ErrorType enum.
type Kind int

const (
	ConfigError Kind = iota
	CryptoError
	TransportError
	ProtocolError
	ServerProblem
	ChallengeError
	StorageError
	HookError
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "ConfigError"
	case CryptoError:
		return "CryptoError"
	case TransportError:
		return "TransportError"
	case ProtocolError:
		return "ProtocolError"
	case ServerProblem:
		return "ServerProblem"
	case ChallengeError:
		return "ChallengeError"
	case StorageError:
		return "StorageError"
	case HookError:
		return "HookError"
	case Cancelled:
		return "Cancelled"
	default:
		return "UnknownError"
	}
}

// AcmedError is the concrete error type returned by every fallible operation
// in the daemon.
type AcmedError struct {
	Kind    Kind
	Detail  string
	Problem *probs.ProblemDetails // set only when Kind == ServerProblem
	Wrapped error

	// RetryAfterDuration carries a parsed Retry-After header, when the
	// response that produced this error included one (spec §4.2's
	// "rateLimited honors Retry-After").
	RetryAfterDuration time.Duration
	hasRetryAfter      bool
}

func (e *AcmedError) Error() string {
	if e.Problem != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Problem.Error())
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Detail, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *AcmedError) Unwrap() error {
	return e.Wrapped
}

// Retryable reports whether the worker should retry this pass per spec §4.2
// and §4.4: transport errors and the retryable subset of server problems are
// recoverable, everything else is not.
func (e *AcmedError) Retryable() bool {
	switch e.Kind {
	case TransportError:
		return true
	case ServerProblem:
		return e.Problem != nil && e.Problem.Retryable()
	default:
		return false
	}
}

// Fatal reports whether the enclosing per-certificate pass should abort
// immediately (spec §4.4's "fatal (abort worker)" classification) rather than
// merely recording a per-identifier failure.
func (e *AcmedError) Fatal() bool {
	if e.Kind == ServerProblem && e.Problem != nil {
		return e.Problem.Fatal()
	}
	return false
}

// RetryAfter reports the parsed Retry-After duration, if any.
func (e *AcmedError) RetryAfter() (time.Duration, bool) {
	return e.RetryAfterDuration, e.hasRetryAfter
}

// WithRetryAfter attaches a Retry-After duration and returns the receiver
// for chaining at the call site.
func (e *AcmedError) WithRetryAfter(d time.Duration) *AcmedError {
	e.RetryAfterDuration = d
	e.hasRetryAfter = true
	return e
}

// New constructs an AcmedError of the given kind.
func New(kind Kind, format string, args ...interface{}) *AcmedError {
	return &AcmedError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an AcmedError of the given kind around an underlying
// error, preserving it for errors.Unwrap / errors.Is chains.
func Wrap(kind Kind, err error, format string, args ...interface{}) *AcmedError {
	return &AcmedError{Kind: kind, Detail: fmt.Sprintf(format, args...), Wrapped: err}
}

// FromProblem wraps a parsed RFC 7807 problem document as a ServerProblem
// AcmedError.
func FromProblem(p *probs.ProblemDetails) *AcmedError {
	return &AcmedError{Kind: ServerProblem, Detail: p.Detail, Problem: p}
}

// Is reports whether err is an AcmedError of the given Kind, mirroring the
// teacher's errors.Is helper in errors/errors.go.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*AcmedError)
	if !ok {
		return false
	}
	return ae.Kind == kind
}
