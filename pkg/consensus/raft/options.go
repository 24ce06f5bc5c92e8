package raftcons

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-topics/pkg/machine"
)

// Options configure the Raft ordering layer.
type Options struct {
    NodeID string
    Logger *log.Logger

    // Machine receives every committed transaction. Required.
    Machine *machine.Machine
    // OnFatal is called once from the apply loop when the machine halts.
    OnFatal func(error)
    // Clock stamps transactions on the leader. Defaults to time.Now.
    Clock func() time.Time

    // Bootstrap forms a single-node cluster on Start when true.
    Bootstrap bool

    // Timeouts (optional). Zero means defaults.
    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    ApplyTimeout     time.Duration // client-side apply wait

    // BindAddr selects a TCP transport bound to this address (e.g.
    // "127.0.0.1:0"). Empty means an in-memory transport.
    BindAddr string

    // DataDir selects the bolt log/stable store and a file snapshot store.
    // Empty means in-memory stores.
    DataDir string

    SnapshotsRetained int
    // SnapshotThreshold is the number of log entries between snapshots.
    SnapshotThreshold uint64
}

func (o Options) Validate() error {
    if o.NodeID == "" { return errors.New("raftcons: empty NodeID") }
    if o.Machine == nil { return errors.New("raftcons: nil Machine") }
    return nil
}
