package topic

import "errors"

// Policy errors. They are reported as a transaction outcome and leave state
// unchanged.
var (
    ErrTopicNotFound        = errors.New("topic: not found")
    ErrTopicDeleted         = errors.New("topic: deleted")
    ErrTopicExpired         = errors.New("topic: expired")
    ErrUnauthorized         = errors.New("topic: unauthorized")
    ErrInvalidConfiguration = errors.New("topic: invalid configuration")
    ErrPayloadTooLarge      = errors.New("topic: payload too large")
    ErrDuplicateTransaction = errors.New("topic: duplicate transaction")
    ErrInvalidTransaction   = errors.New("topic: invalid transaction")
    ErrInvalidKey           = errors.New("topic: invalid key")
)

// ErrStorageFailure marks an I/O level fault. It is never a transaction
// outcome: the node must stop applying transactions once it is seen.
var ErrStorageFailure = errors.New("topic: storage failure")
