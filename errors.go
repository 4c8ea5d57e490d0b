package stm

import (
	"errors"
	"fmt"
)

// ErrNotInTransaction is the error returned for attempts to Write, Alter,
// Commute, or Ensure a Ref when ctx carries no active transaction. This may
// be wrapped in another error, and should normally be tested using
// errors.Is(err, ErrNotInTransaction).
var ErrNotInTransaction = errors.New("stm: no active transaction")

type notInTransactionError string

func (e notInTransactionError) Error() string {
	return fmt.Sprintf("stm: %s requires an active transaction", string(e))
}

func (e notInTransactionError) Is(err error) bool {
	if err == ErrNotInTransaction {
		return true
	}
	downcasted, ok := err.(notInTransactionError)
	return ok && downcasted == e
}

// ErrSetAfterCommute is the error returned for attempts to Write or Alter a
// Ref that has already been Commuted within the same transaction. Mixing
// the two against one Ref in one transaction is disallowed because there is
// no sound way to compose a provisional write with a deferred commute
// closure. This may be wrapped in another error, and should normally be
// tested using errors.Is(err, ErrSetAfterCommute).
var ErrSetAfterCommute = errors.New("stm: write attempted on ref after commute")

type setAfterCommuteError string

func (e setAfterCommuteError) Error() string {
	return fmt.Sprintf("stm: ref %s was commuted in this transaction and cannot also be written", string(e))
}

func (e setAfterCommuteError) Is(err error) bool {
	if err == ErrSetAfterCommute {
		return true
	}
	downcasted, ok := err.(setAfterCommuteError)
	return ok && downcasted == e
}

// ErrWrongWorld is the error returned when a Ref created against one World
// is used from within a transaction running against a different World. A
// transaction's read-point is a single World's write-point counter, so
// mixing refs from two worlds in one transaction has no sound semantics.
var ErrWrongWorld = errors.New("stm: ref belongs to a different world than the active transaction")

// retryNeeded is the internal panic sentinel used to abort a transaction
// attempt mid-body and re-run it against a fresh snapshot. It never
// surfaces to user code: Run is the only place that recovers it.
type retryNeeded struct {
	reason string
}

func (r retryNeeded) String() string {
	return "stm: retry needed: " + r.reason
}

func panicRetry(reason string) {
	panic(retryNeeded{reason: reason})
}
