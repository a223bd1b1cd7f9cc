package models

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindStorage ErrorKind = iota
	KindNetwork
	KindRemoteRejected
	KindInvalidArgument
	KindInvariantViolation
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindStorage:
		return "STORAGE_ERROR"
	case KindNetwork:
		return "NETWORK_ERROR"
	case KindRemoteRejected:
		return "REMOTE_REJECTED"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindInvariantViolation:
		return "INVARIANT_VIOLATION"
	case KindNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// Error message constants for the cart domain.
const (
	ErrMsgQuantityPositive = "quantity must be positive"
	ErrMsgLineNotFound     = "line not in cart"
	ErrMsgProductRequired  = "product id is required"
	ErrMsgStoreClosed      = "guest cart store is closed"
)

// CartError carries the failure kind so callers can decide between retrying,
// surfacing a message or discarding the mutation.
type CartError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *CartError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CartError) Unwrap() error {
	return e.Err
}

func NewCartError(kind ErrorKind, op string, err error) *CartError {
	return &CartError{Kind: kind, Op: op, Err: err}
}

func NewCartErrorf(kind ErrorKind, op, format string, args ...interface{}) *CartError {
	return &CartError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether any CartError in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CartError
	for err != nil {
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Kind == kind {
			return true
		}
		err = ce.Err
	}
	return false
}

// IsRetriable is true for failures that may succeed unchanged on a later
// attempt.
func IsRetriable(err error) bool {
	return IsKind(err, KindNetwork) || IsKind(err, KindStorage)
}
