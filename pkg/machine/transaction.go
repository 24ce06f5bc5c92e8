package machine

import (
    "bytes"
    "encoding/binary"
    "encoding/json"
    "fmt"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/go-topics/pkg/auth"
    "github.com/amirimatin/go-topics/pkg/topic"
)

// Kind selects the operation a transaction performs.
type Kind string

const (
    KindCreate Kind = "create"
    KindUpdate Kind = "update"
    KindSubmit Kind = "submit"
    KindDelete Kind = "delete"
    // KindRound marks a consensus round boundary. It carries no body and
    // triggers reclamation of expired topics.
    KindRound Kind = "round"
)

// Transaction is one ordered input. Body is the JSON encoding of the
// kind-specific body. Signatures cover SigningBytes, not Body alone.
type Transaction struct {
    TxID               string               `json:"txId"`
    Kind               Kind                 `json:"kind"`
    Body               []byte               `json:"body,omitempty"`
    Signatures         []auth.SignaturePair `json:"signatures,omitempty"`
    ConsensusTimestamp time.Time            `json:"consensusTimestamp"`
    NodeID             string               `json:"nodeId,omitempty"`
}

// NewTxID returns a fresh client transaction id.
func NewTxID() string { return uuid.NewString() }

// SigningBytes is what signers sign and the gate verifies: the length
// prefixed TxID followed by Body. A signature is only valid for the id it
// was made under.
func (tx Transaction) SigningBytes() []byte {
    b := make([]byte, 0, 4+len(tx.TxID)+len(tx.Body))
    b = binary.BigEndian.AppendUint32(b, uint32(len(tx.TxID)))
    b = append(b, tx.TxID...)
    return append(b, tx.Body...)
}

type CreateTopicBody struct {
    Memo             *string          `json:"memo,omitempty"`
    AdminKey         *topic.Key       `json:"adminKey,omitempty"`
    SubmitKey        *topic.Key       `json:"submitKey,omitempty"`
    AutoRenewSeconds int64            `json:"autoRenewSeconds"`
    AutoRenewAccount *topic.AccountID `json:"autoRenewAccount,omitempty"`
}

// UpdateTopicBody changes only the fields that are set. A Clear flag removes
// the corresponding optional value and wins over a value set alongside it.
type UpdateTopicBody struct {
    TopicID               topic.ID         `json:"topicId"`
    Memo                  *string          `json:"memo,omitempty"`
    AdminKey              *topic.Key       `json:"adminKey,omitempty"`
    ClearAdminKey         bool             `json:"clearAdminKey,omitempty"`
    SubmitKey             *topic.Key       `json:"submitKey,omitempty"`
    ClearSubmitKey        bool             `json:"clearSubmitKey,omitempty"`
    AutoRenewSeconds      *int64           `json:"autoRenewSeconds,omitempty"`
    AutoRenewAccount      *topic.AccountID `json:"autoRenewAccount,omitempty"`
    ClearAutoRenewAccount bool             `json:"clearAutoRenewAccount,omitempty"`
    Expiration            *time.Time       `json:"expiration,omitempty"`
}

type SubmitMessageBody struct {
    TopicID topic.ID `json:"topicId"`
    Message []byte   `json:"message"`
}

type DeleteTopicBody struct {
    TopicID topic.ID `json:"topicId"`
}

// EncodeBody produces the canonical body bytes clients sign.
func EncodeBody(v any) ([]byte, error) { return json.Marshal(v) }

// NewTransaction encodes body, assigns a fresh TxID and signs the
// transaction's SigningBytes with each of signers.
func NewTransaction(kind Kind, body any, signers ...func([]byte) auth.SignaturePair) (Transaction, error) {
    tx := Transaction{TxID: NewTxID(), Kind: kind}
    if body != nil {
        b, err := EncodeBody(body)
        if err != nil { return Transaction{}, fmt.Errorf("machine: encode %s body: %w", kind, err) }
        tx.Body = b
    }
    msg := tx.SigningBytes()
    for _, s := range signers { tx.Signatures = append(tx.Signatures, s(msg)) }
    return tx, nil
}

func decodeBody(b []byte, v any) error {
    dec := json.NewDecoder(bytes.NewReader(b))
    dec.DisallowUnknownFields()
    if err := dec.Decode(v); err != nil { return fmt.Errorf("%w: body: %v", topic.ErrInvalidTransaction, err) }
    if dec.More() { return fmt.Errorf("%w: trailing data after body", topic.ErrInvalidTransaction) }
    return nil
}

// MarshalTransaction is the encoding used on the ordering log.
func MarshalTransaction(tx Transaction) ([]byte, error) { return json.Marshal(tx) }

func UnmarshalTransaction(b []byte) (Transaction, error) {
    var tx Transaction
    if err := json.Unmarshal(b, &tx); err != nil { return Transaction{}, fmt.Errorf("machine: decode transaction: %w", err) }
    return tx, nil
}
