// Package errs defines the opt-out engine's error kinds (spec §7), following
// the teacher's sentinel-error + predicate pattern (p2p/errors.go,
// services/lending/engine/errors.go in the teacher repo).
package errs

import "errors"

// Kind distinguishes the error categories the UI layer needs to branch on.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindSignature     Kind = "signature"
	KindDriver        Kind = "driver"
	KindTimeout       Kind = "timeout"
	KindNetwork       Kind = "network"
	KindCrypto        Kind = "crypto"
	KindConcurrency   Kind = "concurrency"
)

// Error carries a Kind alongside the usual wrapped error chain.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a kinded error around an existing error.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err, if any *Error is present in its chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
