package raftcons

import (
    "context"
    "errors"
    "io"
    "time"

    "github.com/hashicorp/raft"

    "github.com/amirimatin/go-topics/pkg/machine"
)

// applyResult is what topicFSM.Apply hands back through raft.ApplyFuture.
type applyResult struct {
    Receipt machine.Receipt
    Err     error
}

// topicFSM feeds committed log entries to the machine in log order.
type topicFSM struct {
    m       *machine.Machine
    onFatal func(error)
}

func newTopicFSM(m *machine.Machine, onFatal func(error)) *topicFSM {
    return &topicFSM{m: m, onFatal: onFatal}
}

// normalize makes the consensus timestamp strictly increasing across the
// log. The leader's clock may step backwards between terms; every replica
// applies the same adjustment since they share the last applied timestamp.
func normalize(tx machine.Transaction, last time.Time) machine.Transaction {
    tx.ConsensusTimestamp = tx.ConsensusTimestamp.UTC()
    if !last.IsZero() && !tx.ConsensusTimestamp.After(last) {
        tx.ConsensusTimestamp = last.Add(time.Nanosecond)
    }
    return tx
}

func (f *topicFSM) Apply(l *raft.Log) interface{} {
    if l.Type != raft.LogCommand { return nil }
    tx, err := machine.UnmarshalTransaction(l.Data)
    if err != nil { return applyResult{Err: err} }
    tx = normalize(tx, f.m.LastConsensus())
    r, err := f.m.Process(context.Background(), tx)
    var fe *machine.FatalError
    if errors.As(err, &fe) && f.onFatal != nil { f.onFatal(fe) }
    return applyResult{Receipt: r, Err: err}
}

func (f *topicFSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.m.Snapshot()
    if err != nil { return nil, err }
    return &snapshot{blob: blob}, nil
}

func (f *topicFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    data, err := io.ReadAll(rc)
    if err != nil { return err }
    return f.m.Restore(data)
}

type snapshot struct {
    blob []byte
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s.blob); err != nil { _ = sink.Cancel(); return err }
    return sink.Close()
}

func (s *snapshot) Release() {}

var _ raft.FSM = (*topicFSM)(nil)
