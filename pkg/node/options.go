package node

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-topics/pkg/archive"
    "github.com/amirimatin/go-topics/pkg/consensus"
    "github.com/amirimatin/go-topics/pkg/discovery"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/membership"
    "github.com/amirimatin/go-topics/pkg/transport"
)

const (
    DefaultRoundInterval = time.Second
    DefaultApplyTimeout  = 5 * time.Second
)

// Options carries the components a Node wires together. bootstrap.Build
// produces them from a Config.
type Options struct {
    NodeID string
    Logger *log.Logger

    // Machine is the local replica; Consensus must apply to it. Required.
    Machine   *machine.Machine
    Consensus consensus.Consensus

    // Membership advertises the management and raft addresses. Without it
    // the node cannot find the leader's API and never forwards.
    Membership membership.Membership
    Discovery  discovery.Discovery

    // Servers expose the management API. The first one's address is
    // advertised; RPCClient must speak its protocol.
    Servers   []transport.RPCServer
    RPCClient transport.RPCClient

    // Archive, when set, records every receipt and serves message history.
    Archive    *archive.Archive
    ArchiveQueue int

    // RoundInterval is how often the leader closes a round. Negative
    // disables rounds.
    RoundInterval time.Duration
    ApplyTimeout  time.Duration
}

func (o Options) Validate() error {
    if o.NodeID == "" { return errors.New("node: empty NodeID") }
    if o.Machine == nil { return errors.New("node: nil Machine") }
    if o.Consensus == nil { return errors.New("node: nil Consensus") }
    return nil
}
