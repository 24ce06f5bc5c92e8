// Package node runs one replica of the topic service: the state machine,
// its Raft ordering layer, gossip membership, the management API and the
// archive. Any node accepts transactions and forwards them to the leader.
package node

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "sync"
    "sync/atomic"
    "time"

    "github.com/amirimatin/go-topics/pkg/archive"
    "github.com/amirimatin/go-topics/pkg/consensus"
    "github.com/amirimatin/go-topics/pkg/internal/logutil"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/membership"
    "github.com/amirimatin/go-topics/pkg/observability/metrics"
    "github.com/amirimatin/go-topics/pkg/observability/tracing"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
)

type Node struct {
    opts Options
    log  *log.Logger
    mu   sync.Mutex
    run  struct {
        started bool
        closed  bool
    }
    // running is read by handlers; mu is held across server shutdown.
    running atomic.Bool
    cancel  context.CancelFunc
    wg      sync.WaitGroup
    hub     hub
    rec     *archive.Recorder
    halted  atomic.Bool
}

// New validates opts. It performs no network activity.
func New(opts Options) (*Node, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    if opts.RoundInterval == 0 { opts.RoundInterval = DefaultRoundInterval }
    if opts.ApplyTimeout <= 0 { opts.ApplyTimeout = DefaultApplyTimeout }
    return &Node{opts: opts, log: logutil.Component(opts.Logger, "node")}, nil
}

// Start brings up consensus, the management servers and membership, then
// the background loops. Receipt observers are attached first so that the
// log replay during consensus start reaches the archive.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock(); defer n.mu.Unlock()
    if n.run.started { return nil }
    if n.run.closed { return ErrNotRunning }
    n.run.started = true
    metrics.Register()
    ctx, n.cancel = context.WithCancel(ctx)

    m := n.opts.Machine
    m.Subscribe(&n.hub)
    if n.opts.Archive != nil {
        n.rec = archive.NewRecorder(n.opts.Archive, n.opts.ArchiveQueue, n.opts.Logger)
        m.Subscribe(n.rec)
    }

    if err := n.opts.Consensus.Start(ctx); err != nil { return fmt.Errorf("node: consensus: %w", err) }

    h := n.Handlers()
    for _, srv := range n.opts.Servers {
        if err := srv.Start(ctx, h); err != nil { return fmt.Errorf("node: management server: %w", err) }
        logutil.Infof(n.log, "management endpoint listening at %s", srv.Addr())
    }

    if mem := n.opts.Membership; mem != nil {
        if mu, ok := mem.(membership.MetaUpdater); ok {
            if addr := n.mgmtAddr(); addr != "" { _ = mu.SetMeta(membership.MetaMgmt, addr) }
            if addr := n.raftAddr(); addr != "" { _ = mu.SetMeta(membership.MetaRaft, addr) }
        }
        if err := mem.Start(ctx); err != nil { return fmt.Errorf("node: membership: %w", err) }
        if n.opts.Discovery != nil {
            if seeds := n.opts.Discovery.Seeds(); len(seeds) > 0 {
                logutil.Infof(n.log, "joining gossip seeds %v", seeds)
                if err := mem.Join(seeds); err != nil { logutil.Warnf(n.log, "gossip join: %v", err) }
            }
        }
        n.goLoop(func() { n.membershipLoop(ctx) })
    }
    if ln, ok := n.opts.Consensus.(consensus.LeaderNotifier); ok {
        n.goLoop(func() { n.leaderLoop(ctx, ln.LeaderCh()) })
    }
    n.goLoop(func() { n.roundLoop(ctx) })
    n.running.Store(true)
    return nil
}

func (n *Node) goLoop(f func()) {
    n.wg.Add(1)
    go func() { defer n.wg.Done(); f() }()
}

// Stop shuts everything down in reverse dependency order.
func (n *Node) Stop(ctx context.Context) error {
    n.mu.Lock(); defer n.mu.Unlock()
    if n.run.closed { return nil }
    n.run.closed = true
    n.running.Store(false)
    if !n.run.started { return nil }
    var errs []error
    for _, srv := range n.opts.Servers {
        if err := srv.Stop(ctx); err != nil { errs = append(errs, err) }
    }
    n.cancel()
    n.wg.Wait()
    if err := n.opts.Consensus.Stop(); err != nil { errs = append(errs, err) }
    if n.rec != nil { n.rec.Close() }
    n.hub.close()
    if mem := n.opts.Membership; mem != nil {
        _ = mem.Leave()
        if err := mem.Stop(); err != nil { errs = append(errs, err) }
    }
    return errors.Join(errs...)
}

func (n *Node) Close() error { return n.Stop(context.Background()) }

func (n *Node) mgmtAddr() string {
    if len(n.opts.Servers) == 0 { return "" }
    return n.opts.Servers[0].Addr()
}

func (n *Node) raftAddr() string {
    if a, ok := n.opts.Consensus.(interface{ Addr() string }); ok { return a.Addr() }
    return ""
}

// Submit orders tx through the leader and returns this node's receipt for
// it. On a follower the request is forwarded to the leader's management
// API and the leader's receipt is returned.
func (n *Node) Submit(ctx context.Context, tx machine.Transaction) (machine.Receipt, error) {
    ctx, end := tracing.StartSpan(ctx, "node.Submit", "kind", string(tx.Kind), "tx", tx.TxID)
    defer end()
    r, err := n.apply(tx)
    if !errors.Is(err, consensus.ErrNotLeader) { return r, err }
    return n.forward(ctx, tx)
}

func (n *Node) apply(tx machine.Transaction) (machine.Receipt, error) {
    if err := n.opts.Machine.Halted(); err != nil { return machine.Receipt{}, err }
    return n.opts.Consensus.Apply(tx, n.opts.ApplyTimeout)
}

func (n *Node) forward(ctx context.Context, tx machine.Transaction) (machine.Receipt, error) {
    if n.opts.RPCClient == nil { return machine.Receipt{}, ErrNoClient }
    addr, err := n.leaderMgmt()
    if err != nil {
        metrics.Forwarded.WithLabelValues("no_leader").Inc()
        return machine.Receipt{}, err
    }
    resp, err := n.opts.RPCClient.Submit(ctx, addr, transport.SubmitRequest{Tx: tx, Forwarded: true})
    if err == nil && resp.Error != "" { err = errors.New(resp.Error) }
    if err != nil {
        metrics.Forwarded.WithLabelValues("error").Inc()
        return machine.Receipt{}, fmt.Errorf("node: forward to %s: %w", addr, err)
    }
    metrics.Forwarded.WithLabelValues("ok").Inc()
    return resp.Receipt, nil
}

// leaderMgmt resolves the leader's management address through gossip meta.
func (n *Node) leaderMgmt() (string, error) {
    id, _, ok := n.opts.Consensus.Leader()
    if !ok { return "", ErrNoLeader }
    if id == n.opts.NodeID {
        if a := n.mgmtAddr(); a != "" { return a, nil }
    }
    if a := n.memberMgmt(id); a != "" { return a, nil }
    return "", fmt.Errorf("%w: no management address for %s", ErrNoLeader, id)
}

func (n *Node) memberMgmt(id string) string {
    if n.opts.Membership == nil { return "" }
    for _, m := range n.opts.Membership.Members() {
        if m.ID == id { return m.Mgmt() }
    }
    return ""
}

// Join asks the cluster reachable at seed to add this node as a voter. The
// seed's status names the leader; a not-leader answer is retried once
// against its hint.
func (n *Node) Join(ctx context.Context, seed string) error {
    if n.opts.RPCClient == nil { return ErrNoClient }
    target := seed
    if data, err := n.opts.RPCClient.GetStatus(ctx, seed); err == nil {
        var st Status
        if json.Unmarshal(data, &st) == nil && st.LeaderAddr != "" { target = st.LeaderAddr }
    }
    req := transport.JoinRequest{ID: n.opts.NodeID, RaftAddr: n.raftAddr()}
    for attempt := 0; attempt < 2; attempt++ {
        resp, err := n.opts.RPCClient.PostJoin(ctx, target, req)
        if err != nil { return fmt.Errorf("node: join via %s: %w", target, err) }
        if resp.Accepted { return nil }
        if resp.Leader == "" || resp.Leader == target {
            if resp.Error != "" { return fmt.Errorf("node: join rejected: %s", resp.Error) }
            return errors.New("node: join rejected")
        }
        target = resp.Leader
    }
    return consensus.ErrNotLeader
}

// Leave asks the leader to drop this node from the voters.
func (n *Node) Leave(ctx context.Context) error {
    if n.opts.RPCClient == nil { return ErrNoClient }
    addr, err := n.leaderMgmt()
    if err != nil { return err }
    resp, err := n.opts.RPCClient.PostLeave(ctx, addr, transport.LeaveRequest{ID: n.opts.NodeID})
    if err != nil { return err }
    if !resp.Accepted { return fmt.Errorf("node: leave rejected: %s", resp.Error) }
    return nil
}

// Topic reads committed local state; followers may lag the leader.
func (n *Node) Topic(id topic.ID) (topic.State, bool, error) { return n.opts.Machine.Topic(id) }

// Subscribe follows receipts for id, or all receipts when id is zero,
// until ctx is done or cancel is called.
func (n *Node) Subscribe(ctx context.Context, id topic.ID) (<-chan machine.Receipt, func()) {
    ch, cancel := n.hub.subscribe(id)
    go func() {
        <-ctx.Done()
        cancel()
    }()
    return ch, cancel
}

// Health is nil while the node can serve writes.
func (n *Node) Health() error {
    if err := n.opts.Machine.Halted(); err != nil { return err }
    if !n.running.Load() { return ErrNotRunning }
    if _, _, ok := n.opts.Consensus.Leader(); !ok { return ErrNoLeader }
    return nil
}

func (n *Node) Status(ctx context.Context) (*Status, error) {
    _, end := tracing.StartSpan(ctx, "node.Status")
    defer end()
    c := n.opts.Consensus
    last := n.opts.Machine.LastConsensus()
    s := &Status{NodeID: n.opts.NodeID, Term: c.Term(), IsLeader: c.IsLeader(), LastConsensus: last}
    if err := n.Health(); err == nil {
        s.Healthy = true
    } else {
        s.Warnings = append(s.Warnings, err.Error())
    }
    if err := n.opts.Machine.Halted(); err != nil { s.Halted = err.Error() }
    if id, _, ok := c.Leader(); ok {
        s.LeaderID = id
        s.LeaderAddr, _ = n.leaderMgmt()
    }
    if mem := n.opts.Membership; mem != nil {
        ms := mem.Members()
        metrics.ClusterMembers.Set(float64(len(ms)))
        for _, mi := range ms {
            st := MemberStatus{MemberInfo: mi}
            if at, ok := mi.Applied(); ok {
                st.Applied = at
                if last.After(at) { st.Lag = last.Sub(at) }
            }
            s.Members = append(s.Members, st)
        }
    }
    return s, nil
}

func (n *Node) roundLoop(ctx context.Context) {
    tick := n.opts.RoundInterval
    if tick < 0 { tick = DefaultRoundInterval }
    t := time.NewTicker(tick)
    defer t.Stop()
    var advertised time.Time
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
        }
        if n.checkHalt() { continue }
        if n.opts.RoundInterval > 0 && n.opts.Consensus.IsLeader() { n.closeRound() }
        if last := n.opts.Machine.LastConsensus(); !last.Equal(advertised) && n.advertiseApplied(last) { advertised = last }
    }
}

// closeRound orders a round boundary. Its consensus timestamp is assigned
// by the ordering layer; the id only has to be unique.
func (n *Node) closeRound() {
    now := time.Now().UTC()
    _, err := n.opts.Consensus.Apply(machine.Transaction{TxID: machine.RoundTxID(now), Kind: machine.KindRound}, n.opts.ApplyTimeout)
    switch {
    case err == nil:
    case errors.Is(err, consensus.ErrNotLeader):
        logutil.Debugf(n.log, "round skipped: %v", err)
    default:
        logutil.Warnf(n.log, "round at %s: %v", now.Format(time.RFC3339Nano), err)
    }
}

func (n *Node) advertiseApplied(last time.Time) bool {
    mu, ok := n.opts.Membership.(membership.MetaUpdater)
    if !ok || last.IsZero() { return false }
    if err := mu.SetMeta(membership.MetaApplied, last.Format(time.RFC3339Nano)); err != nil {
        logutil.Debugf(n.log, "advertise applied: %v", err)
        return false
    }
    return true
}

// checkHalt reports whether the machine stopped, and flips the servers to
// not-serving the first time it sees it.
func (n *Node) checkHalt() bool {
    err := n.opts.Machine.Halted()
    if err == nil { return false }
    if n.halted.CompareAndSwap(false, true) {
        logutil.Errorf(n.log, "node halted: %v", err)
        for _, srv := range n.opts.Servers {
            if s, ok := srv.(interface{ SetServing(bool) }); ok { s.SetServing(false) }
        }
    }
    return true
}

func (n *Node) leaderLoop(ctx context.Context, ch <-chan consensus.LeaderInfo) {
    for {
        select {
        case <-ctx.Done():
            return
        case li := <-ch:
            logutil.Infof(n.log, "leader is %s (term %d)", li.ID, li.Term)
            if li.ID == n.opts.NodeID { n.reconcileVoters() }
        }
    }
}

func (n *Node) membershipLoop(ctx context.Context) {
    evs := n.opts.Membership.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evs:
            if !ok { return }
            metrics.ClusterMembers.Set(float64(len(n.opts.Membership.Members())))
            if !n.opts.Consensus.IsLeader() || e.Member.ID == n.opts.NodeID { continue }
            switch e.Type {
            case membership.EventJoin, membership.EventUpdate:
                n.addVoter(e.Member)
            case membership.EventLeave:
                n.removeVoter(e.Member.ID)
            }
        }
    }
}

// reconcileVoters adds every gossip member that advertises a raft address.
func (n *Node) reconcileVoters() {
    if n.opts.Membership == nil { return }
    for _, m := range n.opts.Membership.Members() {
        if m.ID != n.opts.NodeID { n.addVoter(m) }
    }
}

func (n *Node) addVoter(m membership.MemberInfo) {
    rc, ok := n.opts.Consensus.(consensus.Reconfigurer)
    addr := m.Meta[membership.MetaRaft]
    if !ok || addr == "" { return }
    if err := rc.AddVoter(m.ID, addr, n.opts.ApplyTimeout); err != nil {
        logutil.Warnf(n.log, "add voter %s at %s: %v", m.ID, addr, err)
    }
}

func (n *Node) removeVoter(id string) {
    rc, ok := n.opts.Consensus.(consensus.Reconfigurer)
    if !ok { return }
    if err := rc.RemoveServer(id, n.opts.ApplyTimeout); err != nil {
        logutil.Warnf(n.log, "remove voter %s: %v", id, err)
    }
}
