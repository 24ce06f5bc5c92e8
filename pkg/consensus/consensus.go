// Package consensus abstracts the ordering collaborator: the component that
// assigns every transaction its place in the global order and its consensus
// timestamp before the topic state machine sees it.
package consensus

import (
    "context"
    "errors"
    "time"

    "github.com/amirimatin/go-topics/pkg/machine"
)

var (
    ErrNotLeader  = errors.New("consensus: not leader")
    ErrNotStarted = errors.New("consensus: not started")
)

// Consensus orders transactions and applies them to the local machine.
// Apply must be called on the leader; it stamps the transaction, waits for
// it to commit and returns the receipt this replica produced for it.
type Consensus interface {
    Start(ctx context.Context) error
    Apply(tx machine.Transaction, timeout time.Duration) (machine.Receipt, error)
    IsLeader() bool
    Leader() (id string, addr string, ok bool)
    Term() uint64
    Stop() error
}

// LeaderInfo describes the current known leader.
type LeaderInfo struct {
    ID   string
    Addr string
    Term uint64
}

// LeaderNotifier is implemented by engines that publish leadership changes.
// Sends never block the engine; slow readers miss intermediate updates.
type LeaderNotifier interface {
    LeaderCh() <-chan LeaderInfo
}

// Reconfigurer adds and removes voting servers.
type Reconfigurer interface {
    AddVoter(id, addr string, timeout time.Duration) error
    RemoveServer(id string, timeout time.Duration) error
}
