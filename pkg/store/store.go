// Package store defines the durable keyed state behind the topic state
// machine. Topics are keyed by topic.ID.Bytes() and stored as
// topic.State.MarshalBinary(); a separate meta namespace holds counters and
// the duplicate-transaction window.
//
// Every error returned by a backend for an I/O or corruption fault wraps
// topic.ErrStorageFailure.
package store

import (
    "errors"
    "fmt"

    "github.com/amirimatin/go-topics/pkg/topic"
)

// Meta keys used by the state machine.
const (
    MetaNextNum         = "next_num"
    MetaLastConsensusNs = "last_consensus_ns"
    MetaDedupPrefix     = "dedup/"
)

// ErrReadOnly is returned by writes inside View.
var ErrReadOnly = errors.New("store: read-only transaction")

// Txn is the view of the store inside one transaction. Reads observe writes
// made earlier in the same transaction.
type Txn interface {
    Get(id topic.ID) (topic.State, bool, error)
    Put(st topic.State) error
    Delete(id topic.ID) error
    GetMeta(key string) ([]byte, bool, error)
    PutMeta(key string, val []byte) error
    DeleteMeta(key string) error
    // ScanMeta visits meta entries whose key starts with prefix in ascending
    // key order, including writes made earlier in the transaction.
    ScanMeta(prefix string, fn func(key string, val []byte) error) error
}

// Store is a transactional topic store.
type Store interface {
    // View runs fn in a read-only transaction.
    View(fn func(Txn) error) error
    // Update runs fn in a read-write transaction. All writes of fn are
    // committed if it returns nil and none are otherwise.
    Update(fn func(Txn) error) error
    // ForEach visits every stored topic in ascending id order.
    ForEach(fn func(topic.State) error) error
    // ForEachMeta visits meta entries whose key starts with prefix in
    // ascending key order.
    ForEachMeta(prefix string, fn func(key string, val []byte) error) error
    // Reset removes every topic and meta entry.
    Reset() error
    Close() error
}

// Failure wraps a backend error as a storage failure.
func Failure(op string, err error) error {
    if err == nil { return nil }
    if errors.Is(err, topic.ErrStorageFailure) { return err }
    return fmt.Errorf("store: %s: %w: %w", op, topic.ErrStorageFailure, err)
}

// Encode is the value format for a topic record.
func Encode(st topic.State) ([]byte, error) {
    b, err := st.MarshalBinary()
    if err != nil { return nil, Failure("encode "+st.ID.String(), err) }
    return b, nil
}

// Decode parses a stored record. A record that fails to decode is corrupt
// and reported as a storage failure.
func Decode(b []byte) (topic.State, error) {
    var st topic.State
    if err := st.UnmarshalBinary(b); err != nil { return topic.State{}, Failure("decode", err) }
    return st, nil
}

// All collects every topic in ascending id order.
func All(s Store) ([]topic.State, error) {
    var out []topic.State
    err := s.ForEach(func(st topic.State) error { out = append(out, st); return nil })
    return out, err
}
