// Package raftcons orders topic transactions with HashiCorp Raft. The leader
// stamps each transaction with its consensus timestamp and node id; every
// replica applies the committed log to its own machine.Machine.
package raftcons

import (
    "context"
    "errors"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    c "github.com/amirimatin/go-topics/pkg/consensus"
    "github.com/amirimatin/go-topics/pkg/internal/logutil"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/observability/metrics"
)

// Node implements consensus.Consensus using HashiCorp Raft.
type Node struct {
    opts  Options
    log   *log.Logger
    mu    sync.RWMutex
    r     *raft.Raft
    lch   chan c.LeaderInfo
    addr  raft.ServerAddress
    trans raft.Transport
    lb    raft.LoopbackTransport
    bolt  *raftboltdb.BoltStore
    fatal sync.Once
}

func New(opts Options) (*Node, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    if opts.Clock == nil { opts.Clock = time.Now }
    return &Node{opts: opts, log: logutil.Component(opts.Logger, "raft"), lch: make(chan c.LeaderInfo, 16)}, nil
}

func (n *Node) current() *raft.Raft {
    n.mu.RLock(); defer n.mu.RUnlock()
    return n.r
}

func (n *Node) Start(ctx context.Context) error {
    if n.current() != nil { return nil }

    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    if n.opts.HeartbeatTimeout > 0 {
        cfg.HeartbeatTimeout = n.opts.HeartbeatTimeout
        // lease must not exceed the heartbeat timeout
        if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
            cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout / 2
            if cfg.LeaderLeaseTimeout == 0 { cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout }
        }
    }
    if n.opts.ElectionTimeout > 0 { cfg.ElectionTimeout = n.opts.ElectionTimeout }
    if n.opts.CommitTimeout > 0 { cfg.CommitTimeout = n.opts.CommitTimeout }
    if n.opts.SnapshotThreshold > 0 { cfg.SnapshotThreshold = n.opts.SnapshotThreshold }

    var (
        logs   raft.LogStore
        stable raft.StableStore
        snaps  raft.SnapshotStore
        addr   raft.ServerAddress
        trans  raft.Transport
        err    error
    )

    if n.opts.DataDir != "" {
        if n.opts.SnapshotsRetained == 0 { n.opts.SnapshotsRetained = 2 }
        if err := os.MkdirAll(n.opts.DataDir, 0o755); err != nil { return err }
        bstore, err := raftboltdb.NewBoltStore(filepath.Join(n.opts.DataDir, "raft.db"))
        if err != nil { return fmt.Errorf("raftcons: log store: %w", err) }
        n.bolt = bstore
        logs, stable = bstore, bstore
        snaps, err = raft.NewFileSnapshotStore(n.opts.DataDir, n.opts.SnapshotsRetained, os.Stderr)
        if err != nil { return err }
    } else {
        logs = raft.NewInmemStore()
        stable = raft.NewInmemStore()
        snaps = raft.NewInmemSnapshotStore()
    }

    if n.opts.BindAddr != "" {
        nt, err := raft.NewTCPTransport(n.opts.BindAddr, nil, 3, time.Second, os.Stderr)
        if err != nil { return err }
        trans, addr = nt, nt.LocalAddr()
    } else {
        addr, trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
    }

    // The topic store is rebuilt from the snapshot and log on every start.
    if err := n.opts.Machine.Reset(); err != nil { return fmt.Errorf("raftcons: reset machine: %w", err) }
    fsm := newTopicFSM(n.opts.Machine, n.onFatal)

    r, err := raft.NewRaft(cfg, fsm, logs, stable, snaps, trans)
    if err != nil { return err }
    n.mu.Lock()
    n.r, n.addr, n.trans = r, addr, trans
    if lb, ok := trans.(raft.LoopbackTransport); ok { n.lb = lb }
    n.mu.Unlock()

    obsCh := make(chan raft.Observation, 32)
    observer := raft.NewObserver(obsCh, false, func(o *raft.Observation) bool {
        _, ok := o.Data.(raft.LeaderObservation)
        return ok
    })
    r.RegisterObserver(observer)
    go func() {
        for {
            select {
            case <-ctx.Done():
                return
            case <-obsCh:
                metrics.LeaderChanges.Inc()
                n.publishLeader()
            }
        }
    }()
    go func() {
        // emit once raft has settled, for nodes that start already leading
        time.Sleep(50 * time.Millisecond)
        n.publishLeader()
    }()

    if n.opts.Bootstrap {
        cfgs := raft.Configuration{Servers: []raft.Server{{ID: cfg.LocalID, Address: addr}}}
        if err := r.BootstrapCluster(cfgs).Error(); err != nil && err != raft.ErrCantBootstrap { return err }
    }

    go func() {
        <-ctx.Done()
        _ = n.Stop()
    }()
    return nil
}

func (n *Node) publishLeader() {
    leader := n.IsLeader()
    if leader { metrics.IsLeader.Set(1) } else { metrics.IsLeader.Set(0) }
    if id, addr, ok := n.Leader(); ok {
        n.emitLeader(c.LeaderInfo{ID: id, Addr: addr, Term: n.Term()})
    }
}

func (n *Node) onFatal(err error) {
    n.fatal.Do(func() {
        logutil.Errorf(n.log, "state machine halted, leaving consensus: %v", err)
        if n.opts.OnFatal != nil { n.opts.OnFatal(err) }
        // Shutdown waits for the apply loop we are running on.
        go func() { _ = n.Stop() }()
    })
}

// Apply stamps tx with the leader's clock and node id, commits it and
// returns the local receipt. Policy failures come back in the receipt.
func (n *Node) Apply(tx machine.Transaction, timeout time.Duration) (machine.Receipt, error) {
    r := n.current()
    if r == nil { return machine.Receipt{}, c.ErrNotStarted }
    if r.State() != raft.Leader { return machine.Receipt{}, c.ErrNotLeader }
    tx.ConsensusTimestamp = n.opts.Clock().UTC()
    tx.NodeID = n.opts.NodeID
    data, err := machine.MarshalTransaction(tx)
    if err != nil { return machine.Receipt{}, err }
    t := timeout
    if t <= 0 { t = n.opts.ApplyTimeout }
    af := r.Apply(data, t)
    if err := af.Error(); err != nil {
        if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost { return machine.Receipt{}, fmt.Errorf("%w: %v", c.ErrNotLeader, err) }
        return machine.Receipt{}, err
    }
    res, ok := af.Response().(applyResult)
    if !ok { return machine.Receipt{}, fmt.Errorf("raftcons: unexpected apply response %T", af.Response()) }
    return res.Receipt, res.Err
}

func (n *Node) IsLeader() bool {
    r := n.current()
    return r != nil && r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    r := n.current()
    if r == nil { return "", "", false }
    a, sid := r.LeaderWithID()
    if sid == "" { return "", "", false }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    r := n.current()
    if r == nil { return 0 }
    if v := r.Stats()["current_term"]; v != "" {
        if u, err := strconv.ParseUint(v, 10, 64); err == nil { return u }
    }
    return 0
}

// Addr is the raft transport address, valid after Start.
func (n *Node) Addr() string {
    n.mu.RLock(); defer n.mu.RUnlock()
    return string(n.addr)
}

// Connect links two nodes running on in-memory transports, both ways.
func (n *Node) Connect(peer *Node) error {
    n.mu.RLock()
    lb, addr, trans := n.lb, n.addr, n.trans
    n.mu.RUnlock()
    peer.mu.RLock()
    plb, paddr, ptrans := peer.lb, peer.addr, peer.trans
    peer.mu.RUnlock()
    if lb == nil || plb == nil { return errors.New("raftcons: connect needs in-memory transports on both nodes") }
    lb.Connect(paddr, ptrans)
    plb.Connect(addr, trans)
    return nil
}

// Barrier waits until every committed entry has been applied locally.
func (n *Node) Barrier(timeout time.Duration) error {
    r := n.current()
    if r == nil { return c.ErrNotStarted }
    return r.Barrier(timeout).Error()
}

// Snapshot forces a raft snapshot of the machine.
func (n *Node) Snapshot() error {
    r := n.current()
    if r == nil { return c.ErrNotStarted }
    return r.Snapshot().Error()
}

// Servers lists the voters of the current configuration.
func (n *Node) Servers() ([]raft.Server, error) {
    r := n.current()
    if r == nil { return nil, c.ErrNotStarted }
    f := r.GetConfiguration()
    if err := f.Error(); err != nil { return nil, err }
    return f.Configuration().Servers, nil
}

func (n *Node) Stop() error {
    n.mu.Lock()
    r, bolt := n.r, n.bolt
    n.r, n.bolt = nil, nil
    n.mu.Unlock()
    if r == nil { return nil }
    metrics.IsLeader.Set(0)
    if err := r.Shutdown().Error(); err != nil { return err }
    if bolt != nil { return bolt.Close() }
    return nil
}

var _ c.Consensus = (*Node)(nil)
var _ c.Reconfigurer = (*Node)(nil)
var _ c.LeaderNotifier = (*Node)(nil)

func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

func (n *Node) emitLeader(li c.LeaderInfo) {
    select {
    case n.lch <- li:
    default:
        // a full channel drops the update; readers re-query Leader()
    }
}

// AddVoter adds a voting server, replacing a stale entry with another address.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
    r := n.current()
    if r == nil { return c.ErrNotStarted }
    if r.State() != raft.Leader { return c.ErrNotLeader }
    cfg := r.GetConfiguration()
    if err := cfg.Error(); err == nil {
        for _, srv := range cfg.Configuration().Servers {
            if string(srv.ID) != id { continue }
            if string(srv.Address) == addr { return nil }
            if err := r.RemoveServer(srv.ID, 0, timeout).Error(); err != nil { return err }
            break
        }
    }
    logutil.Infof(n.log, "adding voter %s at %s", id, addr)
    return r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// RemoveServer removes a server from the configuration if present.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
    r := n.current()
    if r == nil { return c.ErrNotStarted }
    if r.State() != raft.Leader { return c.ErrNotLeader }
    logutil.Infof(n.log, "removing server %s", id)
    return r.RemoveServer(raft.ServerID(id), 0, timeout).Error()
}
