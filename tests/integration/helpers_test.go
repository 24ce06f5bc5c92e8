//go:build integration

package integration

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "os"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/bootstrap"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/node"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
    "github.com/amirimatin/go-topics/pkg/transport/httpjson"
)

var errNotYet = errors.New("not yet")

// config returns the loopback layout of node i (1-based): raft on 952i,
// gossip on 7946+1000*(i-1), management on 17946+1000*(i-1).
func config(i int) bootstrap.Config {
    return bootstrap.Config{
        NodeID:        fmt.Sprintf("n%d", i),
        RaftAddr:      fmt.Sprintf("127.0.0.1:%d", 9520+i),
        MemBind:       fmt.Sprintf("127.0.0.1:%d", 7946+1000*(i-1)),
        MgmtAddr:      mgmt(i),
        DiscoveryKind: "static",
        Bootstrap:     i == 1,
        RoundInterval: 200 * time.Millisecond,
        Logger:        log.New(os.Stderr, fmt.Sprintf("[n%d] ", i), log.LstdFlags),
    }
}

func mgmt(i int) string { return fmt.Sprintf("127.0.0.1:%d", 17946+1000*(i-1)) }

func seed() string { return "127.0.0.1:7946" }

func start(t *testing.T, ctx context.Context, cfg bootstrap.Config) *bootstrap.Instance {
    t.Helper()
    inst, err := bootstrap.Run(ctx, cfg)
    if err != nil { t.Fatalf("%s: %v", cfg.NodeID, err) }
    return inst
}

// mustStartThreeNodes starts n1 as the bootstrap voter and gossips n2 and
// n3 into the cluster; the leader promotes them to voters on its own.
func mustStartThreeNodes(t *testing.T, ctx context.Context, tweak func(*bootstrap.Config)) (n1, n2, n3 *bootstrap.Instance) {
    t.Helper()
    cfgs := make([]bootstrap.Config, 3)
    for i := range cfgs {
        cfgs[i] = config(i + 1)
        if i > 0 { cfgs[i].SeedsCSV = seed() }
        if tweak != nil { tweak(&cfgs[i]) }
    }
    n1 = start(t, ctx, cfgs[0])
    waitUntil(t, 10*time.Second, func() error { return n1.Health() })
    n2 = start(t, ctx, cfgs[1])
    n3 = start(t, ctx, cfgs[2])
    waitVoters(t, n1, 3)
    return n1, n2, n3
}

func waitVoters(t *testing.T, leader *bootstrap.Instance, want int) {
    t.Helper()
    waitUntil(t, 20*time.Second, func() error {
        servers, err := leader.Raft.Servers()
        if err != nil { return err }
        if len(servers) != want { return fmt.Errorf("%w: %d voters", errNotYet, len(servers)) }
        return nil
    })
}

func waitUntil(t *testing.T, timeout time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    var last error
    for time.Now().Before(deadline) {
        if last = fn(); last == nil { return }
        time.Sleep(200 * time.Millisecond)
    }
    t.Fatalf("timeout waiting for condition: %v", last)
}

func fetchStatus(ctx context.Context, cli transport.RPCClient, addr string) (node.Status, error) {
    var s node.Status
    b, err := cli.GetStatus(ctx, addr)
    if err != nil { return s, err }
    err = json.Unmarshal(b, &s)
    return s, err
}

func submit(t *testing.T, ctx context.Context, cli transport.RPCClient, addr string, kind machine.Kind, body any) machine.Receipt {
    t.Helper()
    tx, err := machine.NewTransaction(kind, body)
    if err != nil { t.Fatalf("tx: %v", err) }
    resp, err := cli.Submit(ctx, addr, transport.SubmitRequest{Tx: tx})
    if err != nil { t.Fatalf("submit %s to %s: %v", kind, addr, err) }
    if !resp.Receipt.OK() { t.Fatalf("%s rejected: %s", kind, resp.Receipt.Reason) }
    return resp.Receipt
}

func createTopic(t *testing.T, ctx context.Context, cli transport.RPCClient, addr string) topic.ID {
    t.Helper()
    memo := "integration"
    return submit(t, ctx, cli, addr, machine.KindCreate, machine.CreateTopicBody{Memo: &memo, AutoRenewSeconds: 7000000}).TopicID
}

// waitSeq waits until every node reports id at sequence seq with the same
// running hash.
func waitSeq(t *testing.T, id topic.ID, seq uint64, nodes ...*bootstrap.Instance) {
    t.Helper()
    waitUntil(t, 15*time.Second, func() error {
        var head topic.Hash
        for i, n := range nodes {
            st, ok, err := n.Topic(id)
            if err != nil { return err }
            if !ok || st.SequenceNumber != seq { return fmt.Errorf("%w: node %d at %d", errNotYet, i, st.SequenceNumber) }
            if i == 0 { head = st.RunningHash } else if st.RunningHash != head { return fmt.Errorf("node %d diverged", i) }
        }
        return nil
    })
}

func newClient() *httpjson.Client { return httpjson.NewClient(3 * time.Second) }
