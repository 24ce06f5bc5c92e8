package machine

import (
    "errors"
    "fmt"
    "time"

    "github.com/amirimatin/go-topics/pkg/topic"
)

// Outcome is the result code recorded for a processed transaction.
type Outcome string

const (
    OutcomeSuccess              Outcome = "SUCCESS"
    OutcomeTopicNotFound        Outcome = "TOPIC_NOT_FOUND"
    OutcomeTopicDeleted         Outcome = "TOPIC_DELETED"
    OutcomeTopicExpired         Outcome = "TOPIC_EXPIRED"
    OutcomeUnauthorized         Outcome = "UNAUTHORIZED"
    OutcomeInvalidConfiguration Outcome = "INVALID_CONFIGURATION"
    OutcomePayloadTooLarge      Outcome = "PAYLOAD_TOO_LARGE"
    OutcomeDuplicateTransaction Outcome = "DUPLICATE_TRANSACTION"
    OutcomeInvalidTransaction   Outcome = "INVALID_TRANSACTION"
)

var outcomes = []struct {
    err error
    o   Outcome
}{
    {topic.ErrTopicNotFound, OutcomeTopicNotFound},
    {topic.ErrTopicDeleted, OutcomeTopicDeleted},
    {topic.ErrTopicExpired, OutcomeTopicExpired},
    {topic.ErrUnauthorized, OutcomeUnauthorized},
    {topic.ErrInvalidConfiguration, OutcomeInvalidConfiguration},
    {topic.ErrPayloadTooLarge, OutcomePayloadTooLarge},
    {topic.ErrDuplicateTransaction, OutcomeDuplicateTransaction},
    {topic.ErrInvalidTransaction, OutcomeInvalidTransaction},
}

// OutcomeOf maps a policy error to its outcome. It reports false for errors
// that are not policy outcomes, such as storage failures.
func OutcomeOf(err error) (Outcome, bool) {
    if err == nil { return OutcomeSuccess, true }
    for _, e := range outcomes {
        if errors.Is(err, e.err) { return e.o, true }
    }
    return "", false
}

// Err returns the sentinel error for o, or nil for success.
func (o Outcome) Err() error {
    for _, e := range outcomes {
        if e.o == o { return e.err }
    }
    return nil
}

// Action describes what a round boundary did to an expired topic.
type Action string

const (
    ActionAutoRenewed Action = "AUTO_RENEWED"
    ActionReclaimed   Action = "RECLAIMED"
)

// Receipt is emitted for every processed transaction and for every
// reclamation action taken at a round boundary.
type Receipt struct {
    TxID               string     `json:"txId"`
    Kind               Kind       `json:"kind"`
    TopicID            topic.ID   `json:"topicId"`
    SequenceNumber     uint64     `json:"sequenceNumber,omitempty"`
    RunningHash        topic.Hash `json:"runningHash"`
    Expiration         time.Time  `json:"expiration,omitempty"`
    ConsensusTimestamp time.Time  `json:"consensusTimestamp"`
    Outcome            Outcome    `json:"outcome"`
    Action             Action     `json:"action,omitempty"`
    Reason             string     `json:"reason,omitempty"`
}

func (r Receipt) OK() bool { return r.Outcome == OutcomeSuccess }

// current records the topic's chain position as it stood before the
// transaction, so a rejected receipt still reports it.
func (r *Receipt) current(st topic.State) {
    r.SequenceNumber, r.RunningHash, r.Expiration = st.SequenceNumber, st.RunningHash, st.Expiration
}

func (r Receipt) String() string {
    s := fmt.Sprintf("%s %s %s %s", r.TxID, r.Kind, r.TopicID, r.Outcome)
    if r.Action != "" { s += " " + string(r.Action) }
    if r.Kind == KindSubmit && r.OK() { s += fmt.Sprintf(" seq=%d hash=%s", r.SequenceNumber, r.RunningHash) }
    return s
}

// Observer receives receipts after their transaction committed. It is
// called synchronously on the apply path and must not block.
type Observer interface {
    OnReceipt(r Receipt, tx Transaction)
}

type ObserverFunc func(r Receipt, tx Transaction)

func (f ObserverFunc) OnReceipt(r Receipt, tx Transaction) { f(r, tx) }
