package machine

import (
    "encoding/json"
    "fmt"

    "github.com/amirimatin/go-topics/pkg/store"
    "github.com/amirimatin/go-topics/pkg/topic"
)

// Snapshotter is implemented by collaborators whose state must travel with
// a machine snapshot, such as billing.Ledger.
type Snapshotter interface {
    Snapshot() ([]byte, error)
    Restore(buf []byte) error
}

const snapshotVersion = 1

type snapshot struct {
    Version int               `json:"version"`
    Topics  [][]byte          `json:"topics"`
    Meta    map[string][]byte `json:"meta"`
    Billing json.RawMessage   `json:"billing,omitempty"`
}

// Snapshot captures every topic record, the meta namespace and the billing
// state when billing supports it. Records keep their binary encoding.
func (m *Machine) Snapshot() ([]byte, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.halted != nil { return nil, ErrHalted }
    snap := snapshot{Version: snapshotVersion, Meta: make(map[string][]byte)}
    err := m.store.ForEach(func(st topic.State) error {
        b, err := store.Encode(st)
        if err != nil { return err }
        snap.Topics = append(snap.Topics, b)
        return nil
    })
    if err != nil { return nil, err }
    err = m.store.ForEachMeta("", func(k string, v []byte) error { snap.Meta[k] = v; return nil })
    if err != nil { return nil, err }
    if s, ok := m.billing.(Snapshotter); ok {
        b, err := s.Snapshot()
        if err != nil { return nil, fmt.Errorf("machine: billing snapshot: %w", err) }
        snap.Billing = b
    }
    return json.Marshal(snap)
}

// Restore replaces all state with a snapshot produced by Snapshot.
func (m *Machine) Restore(buf []byte) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.halted != nil { return ErrHalted }
    var snap snapshot
    if err := json.Unmarshal(buf, &snap); err != nil { return fmt.Errorf("machine: decode snapshot: %w", err) }
    if snap.Version != snapshotVersion { return fmt.Errorf("machine: unsupported snapshot version %d", snap.Version) }
    states := make([]topic.State, 0, len(snap.Topics))
    for _, b := range snap.Topics {
        var st topic.State
        if err := st.UnmarshalBinary(b); err != nil { return fmt.Errorf("machine: snapshot record: %w", err) }
        states = append(states, st)
    }
    if err := m.store.Reset(); err != nil { return err }
    err := m.store.Update(func(tx store.Txn) error {
        for _, st := range states {
            if err := tx.Put(st); err != nil { return err }
        }
        for k, v := range snap.Meta {
            if err := tx.PutMeta(k, v); err != nil { return err }
        }
        return nil
    })
    if err != nil { return err }
    if s, ok := m.billing.(Snapshotter); ok && len(snap.Billing) > 0 {
        if err := s.Restore(snap.Billing); err != nil { return fmt.Errorf("machine: billing restore: %w", err) }
    }
    return m.reload()
}

// Reset empties the store and the in-memory view and puts billing back to
// the balances it had when the machine was built. The node calls it before
// the ordering log is replayed from the start.
func (m *Machine) Reset() error {
    m.mu.Lock(); defer m.mu.Unlock()
    if err := m.store.Reset(); err != nil { return err }
    if s, ok := m.billing.(Snapshotter); ok && m.genesis != nil {
        if err := s.Restore(m.genesis); err != nil { return fmt.Errorf("machine: billing reset: %w", err) }
    }
    m.halted = nil
    return m.reload()
}
