package common

import (
	"errors"
	"fmt"

	"github.com/hermeznetwork/tracerr"
)

// Wrap is a wrapper around tracerr.Wrap that attaches the stack trace to the
// error.  Wrap(nil) returns nil.
var Wrap = tracerr.Wrap

// Unwrap is a wrapper around tracerr.Unwrap that returns the original error
var Unwrap = tracerr.Unwrap

// ErrNotInFF is used when the *big.Int does not fit inside the Finite Field
var ErrNotInFF = errors.New("BigInt not inside the Finite Field")

// ErrNumOverflow is used when a given value overflows the maximum capacity of the parameter
var ErrNumOverflow = errors.New("Value overflows the type")

// ErrAccountIDOverflow is used when an account id doesn't fit in the account tree
var ErrAccountIDOverflow = errors.New("account id overflow, max value: 2**24 -2")

// ErrNegativeAmount is used when an amount or balance would become negative
var ErrNegativeAmount = errors.New("negative amount")

// ErrBatchQueueEmpty is used when the coordinator.BatchQueue.Pop() is called and has no elements
var ErrBatchQueueEmpty = errors.New("BatchQueue empty")

// ErrDone is used when a function returns earlier due to a cancelled context
var ErrDone = errors.New("done")

// ErrSettlementTimeout is returned when a committed batch is not verified on
// L1 within the configured window.  It is handled by reverting the
// unverified batches.
var ErrSettlementTimeout = errors.New("settlement timeout")

// ErrExodusMode is returned by every state transition attempt once the
// priority queue has been starved.  Exodus mode is terminal.
var ErrExodusMode = errors.New("exodus mode is active")

// IsErrDone returns true if the error or wrapped error is ErrDone
func IsErrDone(err error) bool {
	return Unwrap(err) == ErrDone
}

// RejectedTransactionError is a precondition failure of a user submitted
// operation.  The operation never enters a batch and the reason is reported
// to the submitter.
type RejectedTransactionError struct {
	OpType OpType
	Reason error
}

// NewRejectedTxErr returns a RejectedTransactionError for the given op type
func NewRejectedTxErr(opType OpType, reason error) *RejectedTransactionError {
	return &RejectedTransactionError{OpType: opType, Reason: reason}
}

// Error implements the error interface
func (e *RejectedTransactionError) Error() string {
	return fmt.Sprintf("%s rejected: %v", e.OpType, e.Reason)
}

// Unwrap returns the rejection reason
func (e *RejectedTransactionError) Unwrap() error {
	return e.Reason
}

// DegradedPriorityOpError describes a priority operation whose L1 declared
// data doesn't match the current state.  It is not returned to callers as a
// failure: the operation is included with zero effect and the error is kept
// as the op fail reason.
type DegradedPriorityOpError struct {
	SerialID uint64
	OpType   OpType
	Reason   error
}

// Error implements the error interface
func (e *DegradedPriorityOpError) Error() string {
	return fmt.Sprintf("priority op %s (serial %d) degraded: %v", e.OpType, e.SerialID, e.Reason)
}

// Unwrap returns the degradation reason
func (e *DegradedPriorityOpError) Unwrap() error {
	return e.Reason
}

// FatalInvariantError is raised when an operation passes its precondition
// checks but an invariant fails while it is being applied.  Batch
// construction must halt.
type FatalInvariantError struct {
	OpType OpType
	Reason error
}

// Error implements the error interface
func (e *FatalInvariantError) Error() string {
	return fmt.Sprintf("fatal invariant violation applying %s: %v", e.OpType, e.Reason)
}

// Unwrap returns the violated invariant
func (e *FatalInvariantError) Unwrap() error {
	return e.Reason
}

// IsRejected returns true if err wraps a RejectedTransactionError
func IsRejected(err error) bool {
	var rErr *RejectedTransactionError
	return errors.As(Unwrap(err), &rErr)
}

// IsFatal returns true if err wraps a FatalInvariantError
func IsFatal(err error) bool {
	var fErr *FatalInvariantError
	return errors.As(Unwrap(err), &fErr)
}
