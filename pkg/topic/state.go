// Package topic holds the data model of a consensus topic: its identifier,
// keys, the persisted State record and its binary encoding.
package topic

import (
    "encoding/hex"
    "fmt"
    "time"
)

// HashSize is the width of a running hash (SHA-384).
const HashSize = 48

// Hash is a running hash chain head.
type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
    if len(b) != 2*HashSize { return fmt.Errorf("topic: hash must be %d hex chars", 2*HashSize) }
    _, err := hex.Decode(h[:], b)
    return err
}

// State is the persisted record of one topic.
//
// Optional fields are pointers: a nil AdminKey means the topic is immutable,
// a nil SubmitKey means anyone may submit, a nil Memo is distinct from an
// empty memo and a nil AutoRenewAccount means expiry leads to reclamation.
type State struct {
    ID               ID         `json:"id"`
    Memo             *string    `json:"memo,omitempty"`
    AdminKey         *Key       `json:"adminKey,omitempty"`
    SubmitKey        *Key       `json:"submitKey,omitempty"`
    AutoRenewSeconds int64      `json:"autoRenewSeconds"`
    AutoRenewAccount *AccountID `json:"autoRenewAccount,omitempty"`
    Expiration       time.Time  `json:"expiration"`
    SequenceNumber   uint64     `json:"sequenceNumber"`
    RunningHash      Hash       `json:"runningHash"`
    Deleted          bool       `json:"deleted"`
    CreatedAt        time.Time  `json:"createdAt"`
}

// Expired reports whether the topic is past its expiration at the given
// consensus time. Expiration is inclusive: a topic expiring at t is expired at t.
func (s State) Expired(at time.Time) bool { return !at.Before(s.Expiration) }

// Clone returns a deep copy so transitions never alias the stored value.
func (s State) Clone() State {
    out := s
    if s.Memo != nil { m := *s.Memo; out.Memo = &m }
    if s.AdminKey != nil { k := s.AdminKey.Clone(); out.AdminKey = &k }
    if s.SubmitKey != nil { k := s.SubmitKey.Clone(); out.SubmitKey = &k }
    if s.AutoRenewAccount != nil { a := *s.AutoRenewAccount; out.AutoRenewAccount = &a }
    return out
}
