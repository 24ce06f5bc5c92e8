package node

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/billing"
    "github.com/amirimatin/go-topics/pkg/config"
    raftcons "github.com/amirimatin/go-topics/pkg/consensus/raft"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/membership"
    "github.com/amirimatin/go-topics/pkg/store"
    "github.com/amirimatin/go-topics/pkg/store/memory"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
    "github.com/amirimatin/go-topics/pkg/transport/httpjson"
)

// flakyStore fails every update once broken is set.
type flakyStore struct {
    store.Store
    mu     sync.Mutex
    broken bool
}

func (f *flakyStore) breakNow() { f.mu.Lock(); f.broken = true; f.mu.Unlock() }

func (f *flakyStore) Update(fn func(store.Txn) error) error {
    f.mu.Lock()
    broken := f.broken
    f.mu.Unlock()
    if broken { return store.Failure("commit", errors.New("disk full")) }
    return f.Store.Update(fn)
}

// registry is an in-process gossip view shared by fakeGossip members.
type registry struct {
    mu    sync.Mutex
    nodes map[string]map[string]string
}

type fakeGossip struct {
    reg *registry
    id  string
    evs chan membership.Event
}

func (r *registry) member(id string) *fakeGossip {
    r.mu.Lock(); defer r.mu.Unlock()
    if r.nodes == nil { r.nodes = make(map[string]map[string]string) }
    r.nodes[id] = map[string]string{}
    return &fakeGossip{reg: r, id: id, evs: make(chan membership.Event)}
}

func (g *fakeGossip) Start(context.Context) error { return nil }
func (g *fakeGossip) Join([]string) error          { return nil }
func (g *fakeGossip) Events() <-chan membership.Event { return g.evs }
func (g *fakeGossip) Leave() error                 { return nil }
func (g *fakeGossip) Stop() error                  { return nil }

func (g *fakeGossip) Local() membership.MemberInfo {
    for _, m := range g.Members() {
        if m.ID == g.id { return m }
    }
    return membership.MemberInfo{ID: g.id}
}

func (g *fakeGossip) Members() []membership.MemberInfo {
    g.reg.mu.Lock(); defer g.reg.mu.Unlock()
    var out []membership.MemberInfo
    for id, meta := range g.reg.nodes {
        cp := make(map[string]string, len(meta))
        for k, v := range meta { cp[k] = v }
        out = append(out, membership.MemberInfo{ID: id, Addr: id, Meta: cp})
    }
    return out
}

func (g *fakeGossip) SetMeta(k, v string) error {
    g.reg.mu.Lock(); defer g.reg.mu.Unlock()
    g.reg.nodes[g.id][k] = v
    return nil
}

type testNode struct {
    *Node
    m    *machine.Machine
    raft *raftcons.Node
}

func newTestNode(t *testing.T, id string, bootstrap bool, s store.Store, mem membership.Membership) testNode {
    t.Helper()
    if s == nil { s = memory.New() }
    m, err := machine.New(machine.Options{Store: s, Billing: billing.NewLedger(0, nil), Limits: config.Default().Limits})
    if err != nil { t.Fatalf("machine: %v", err) }
    rn, err := raftcons.New(raftcons.Options{
        NodeID:           id,
        Machine:          m,
        Bootstrap:        bootstrap,
        HeartbeatTimeout: 200 * time.Millisecond,
        ElectionTimeout:  200 * time.Millisecond,
        CommitTimeout:    10 * time.Millisecond,
    })
    if err != nil { t.Fatalf("raft: %v", err) }
    n, err := New(Options{
        NodeID:        id,
        Machine:       m,
        Consensus:     rn,
        Membership:    mem,
        Servers:       []transport.RPCServer{httpjson.NewServer("127.0.0.1:0", nil)},
        RPCClient:     httpjson.NewClient(2 * time.Second),
        RoundInterval: 50 * time.Millisecond,
        ApplyTimeout:  2 * time.Second,
    })
    if err != nil { t.Fatalf("node: %v", err) }
    ctx, cancel := context.WithCancel(context.Background())
    if err := n.Start(ctx); err != nil { t.Fatalf("start %s: %v", id, err) }
    t.Cleanup(func() {
        _ = n.Stop(context.Background())
        cancel()
    })
    return testNode{Node: n, m: m, raft: rn}
}

func await(t *testing.T, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(10 * time.Second)
    for !cond() {
        if time.Now().After(deadline) { t.Fatalf("timed out waiting for %s", what) }
        time.Sleep(20 * time.Millisecond)
    }
}

func createTx(t *testing.T, memo string) machine.Transaction {
    t.Helper()
    tx, err := machine.NewTransaction(machine.KindCreate, machine.CreateTopicBody{Memo: &memo, AutoRenewSeconds: 7000000})
    if err != nil { t.Fatalf("tx: %v", err) }
    return tx
}

func submitTx(t *testing.T, id topic.ID, msg string) machine.Transaction {
    t.Helper()
    tx, err := machine.NewTransaction(machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte(msg)})
    if err != nil { t.Fatalf("tx: %v", err) }
    return tx
}
