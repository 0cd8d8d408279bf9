// Package errors defines the error taxonomy shared across the indexing
// engine: a fixed set of Kinds, each with a fixed retryability, independent
// of where in the pipeline the error originated.
package errors

import "fmt"

// Kind identifies which part of the §7 taxonomy an error belongs to.
type Kind string

const (
	KindNotNullConstraint  Kind = "NOT_NULL_CONSTRAINT"
	KindUniqueConstraint   Kind = "UNIQUE_CONSTRAINT"
	KindCheckConstraint    Kind = "CHECK_CONSTRAINT"
	KindBigIntSerial       Kind = "BIG_INT_SERIALIZATION"
	KindPrimaryKeyImmut    Kind = "PRIMARY_KEY_IMMUTABLE"
	KindFlush              Kind = "FLUSH"
	KindDelayedInsert      Kind = "DELAYED_INSERT"
	KindBlockNotFound      Kind = "BLOCK_NOT_FOUND"
	KindTransactionNotFnd  Kind = "TRANSACTION_NOT_FOUND"
	KindReceiptNotFound    Kind = "RECEIPT_NOT_FOUND"
	KindZeroData           Kind = "ZERO_DATA"
	KindShutdown           Kind = "SHUTDOWN"
	KindEncoding           Kind = "ENCODING"
	KindNotNull            Kind = "NOT_NULL"
)

// retryable mirrors spec §7's table exactly; RPC kinds are retryable with a
// budget enforced by the caller (internal/rpccache), everything else is not.
var retryable = map[Kind]bool{
	KindBlockNotFound:     true,
	KindTransactionNotFnd: true,
	KindReceiptNotFound:   true,
	KindZeroData:          true,
}

// Error is the concrete error type carried through the engine. It wraps an
// underlying cause (a driver error, a codec failure, etc.) with a Kind so
// callers can dispatch on taxonomy rather than on error strings.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether operations failing with this error's Kind should
// be retried by the caller (RPC transport) rather than surfaced to a handler.
func (e *Error) Retryable() bool { return retryable[e.Kind] }

// New constructs an Error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind and message to an underlying cause.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// KindOf extracts the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err, if it is a taxonomy Error, should be
// retried. Non-taxonomy errors are treated as non-retryable.
func Retryable(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Retryable()
}
