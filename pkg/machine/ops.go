package machine

import (
    "context"
    "encoding/binary"
    "fmt"
    "time"

    "github.com/amirimatin/go-topics/pkg/topic"
)

// The typed operations below run through the same ordered path as Process.
// tx supplies the transaction id, signatures and consensus timestamp; its
// Kind and Body are replaced by the operation and EncodeBody(b), so the
// signatures must cover SigningBytes of the resulting transaction.

func (m *Machine) typed(ctx context.Context, kind Kind, b any, tx Transaction) (Receipt, error) {
    body, err := EncodeBody(b)
    if err != nil { return Receipt{}, fmt.Errorf("machine: encode %s body: %w", kind, err) }
    tx.Kind, tx.Body = kind, body
    return m.Process(ctx, tx)
}

// CreateTopic allocates the next topic id and initializes the topic.
func (m *Machine) CreateTopic(ctx context.Context, b CreateTopicBody, tx Transaction) (Receipt, error) {
    return m.typed(ctx, KindCreate, b, tx)
}

// UpdateTopic applies the set fields of b to an existing topic.
func (m *Machine) UpdateTopic(ctx context.Context, b UpdateTopicBody, tx Transaction) (Receipt, error) {
    return m.typed(ctx, KindUpdate, b, tx)
}

// SubmitMessage appends a message to a topic's running hash chain.
func (m *Machine) SubmitMessage(ctx context.Context, b SubmitMessageBody, tx Transaction) (Receipt, error) {
    return m.typed(ctx, KindSubmit, b, tx)
}

// DeleteTopic marks a topic deleted. The record stays in the store.
func (m *Machine) DeleteTopic(ctx context.Context, b DeleteTopicBody, tx Transaction) (Receipt, error) {
    return m.typed(ctx, KindDelete, b, tx)
}

// RoundTxID is the transaction id of the round boundary at asOf. Every
// replica derives the same id from the same boundary.
func RoundTxID(asOf time.Time) string {
    return fmt.Sprintf("round-%x", binary.BigEndian.AppendUint64(nil, uint64(asOf.UnixNano())))
}

// ReclaimExpired processes a round boundary at asOf and returns one receipt
// per renewed or reclaimed topic.
func (m *Machine) ReclaimExpired(ctx context.Context, asOf time.Time) ([]Receipt, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    _, acts, err := m.apply(ctx, Transaction{TxID: RoundTxID(asOf), Kind: KindRound, ConsensusTimestamp: asOf})
    return acts, err
}

// Expired lists ids due at asOf without changing anything.
func (m *Machine) Expired(asOf time.Time) []topic.ID { return m.index.Due(asOf) }
