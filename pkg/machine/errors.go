package machine

import (
    "errors"
    "fmt"

    "github.com/amirimatin/go-topics/pkg/topic"
)

var (
    // ErrHalted is returned by every call after a storage failure.
    ErrHalted = errors.New("machine: halted after storage failure")
    // ErrOutOfOrder is returned when a transaction's ordering key does not
    // advance past the last processed one. State is unchanged.
    ErrOutOfOrder = errors.New("machine: consensus order did not advance")
)

// FatalError reports a storage failure. The machine stops processing once it
// returns one, since continuing would let this replica diverge.
type FatalError struct {
    TxID string
    Err  error
}

func (e *FatalError) Error() string { return fmt.Sprintf("machine: fatal while applying %s: %v", e.TxID, e.Err) }

func (e *FatalError) Unwrap() []error { return []error{topic.ErrStorageFailure, e.Err} }
