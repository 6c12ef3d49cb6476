package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/cascade/internal/schema"
	"github.com/roach88/cascade/internal/store"
)

// Kind categorizes errors collected by a run.
type Kind string

const (
	// KindConfiguration covers setup mistakes: duplicate or unknown record
	// types, invalid filters, nested transactions, bad policies.
	KindConfiguration Kind = "ConfigurationError"

	// KindAssertion is a failed postcondition raised by a unit of work.
	KindAssertion Kind = "AssertionFailure"

	// KindWork is any other error or panic from a hook or a unit of work.
	KindWork Kind = "WorkError"

	// KindTimer is a timer callback failure. Timer errors are logged and
	// never reach a Result.
	KindTimer Kind = "TimerError"

	// KindCanceled is recorded when the run's context ends before the run
	// reached quiescence.
	KindCanceled Kind = "Canceled"
)

// Error is one failure collected during a run.
//
// Error includes the producer and record that failed so operators can
// re-query the store for the affected record.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Producer is the ID of the producer whose work failed.
	Producer string

	// Label is the producer's label, if any.
	Label string

	// RecordType and RecordID identify the record being processed.
	RecordType string
	RecordID   string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Producer != "" && e.RecordID != "" {
		return fmt.Sprintf("%s: %s (producer=%s, record=%s/%s)", e.Kind, e.Message, e.Producer, e.RecordType, e.RecordID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// AssertionError is returned by Assert when its condition is false.
type AssertionError struct {
	Message string
}

// DefaultAssertionMessage is the message of an Assert call with no format.
const DefaultAssertionMessage = "Post condition failed"

func (e *AssertionError) Error() string {
	return e.Message
}

// Assert returns nil when cond holds and an *AssertionError otherwise.
// Units of work return it to fail with KindAssertion:
//
//	if err := engine.Assert(rec.Bool("started"), "main %s not started", rec.ID); err != nil {
//		return err
//	}
func Assert(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	msg := DefaultAssertionMessage
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &AssertionError{Message: msg}
}

// PanicError wraps a value recovered from a panicking hook or unit of work.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsAssertion returns true if err is or wraps an assertion failure.
// Uses errors.As to handle wrapped errors.
func IsAssertion(err error) bool {
	var ae *AssertionError
	if errors.As(err, &ae) {
		return true
	}
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAssertion
}

// IsConfiguration returns true if err is a configuration error, either an
// engine Error of KindConfiguration or a coded schema.ConfigError.
func IsConfiguration(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindConfiguration {
		return true
	}
	return schema.IsConfigError(err)
}

// KindOf classifies err. Unknown errors are KindWork.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case IsAssertion(err):
		return KindAssertion
	case schema.IsConfigError(err):
		return KindConfiguration
	}
	return KindWork
}

// configError builds a KindConfiguration error for NewProcessor.
func configError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// newRecordError wraps a failure of prod on rec.
func newRecordError(prod Producer, rec store.Record, err error) *Error {
	return &Error{
		Kind:       KindOf(err),
		Message:    err.Error(),
		Producer:   prod.ID(),
		Label:      prod.Label(),
		RecordType: rec.Type,
		RecordID:   rec.ID,
		Cause:      err,
	}
}
