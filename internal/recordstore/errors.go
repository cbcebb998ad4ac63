package recordstore

import (
	"context"
	"errors"
	"fmt"

	"taxdesk/internal/taxpayer/models"
	"taxdesk/pkg/platform/sentinel"
)

// ErrorKind is the normalized remote failure taxonomy.
type ErrorKind string

const (
	// KindStoreUnavailable covers transport failures, timeouts, 5xx responses and
	// malformed payloads. The user may retry by re-issuing the command.
	KindStoreUnavailable ErrorKind = "store_unavailable"

	// KindValidationRejected means the store refused the payload, e.g. a
	// duplicate identifier. Retrying without changing the input is pointless.
	KindValidationRejected ErrorKind = "validation_rejected"
)

// Op names a remote operation.
type Op string

const (
	OpListAll    Op = "list_all"
	OpSearchByID Op = "search_by_id"
	OpCreate     Op = "create"
)

// StoreError is the only error type returned by Client implementations.
type StoreError struct {
	Kind       ErrorKind
	Op         Op
	Message    string
	Underlying error
}

func (e *StoreError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("record store %s [%s]: %s: %v", e.Op, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("record store %s [%s]: %s", e.Op, e.Kind, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Underlying
}

func Unavailable(op Op, message string, underlying error) *StoreError {
	return &StoreError{Kind: KindStoreUnavailable, Op: op, Message: message, Underlying: underlying}
}

func Rejected(op Op, message string, underlying error) *StoreError {
	return &StoreError{Kind: KindValidationRejected, Op: op, Message: message, Underlying: underlying}
}

// Normalize maps any error from op onto one of the two kinds. A StoreError
// passes through unchanged; nil stays nil.
func Normalize(op Op, err error) *StoreError {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se
	}
	if fe, ok := models.AsFieldErrors(err); ok {
		return Rejected(op, fe.Error(), err)
	}
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return Rejected(op, "identifier already exists", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Unavailable(op, "record store timed out", err)
	case errors.Is(err, context.Canceled):
		return Unavailable(op, "record store call canceled", err)
	default:
		return Unavailable(op, "record store unavailable", err)
	}
}

// KindOf returns the kind of a normalized error, or KindStoreUnavailable for
// anything else.
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindStoreUnavailable
}

func IsRejected(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == KindValidationRejected
}

func IsUnavailable(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == KindStoreUnavailable
}
