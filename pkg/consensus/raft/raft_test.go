package raftcons

import (
    "context"
    "errors"
    "testing"
    "time"

    c "github.com/amirimatin/go-topics/pkg/consensus"
)

func TestRaft_SingleNodeApply(t *testing.T) {
    m := newMachine(t)
    n, err := New(Options{NodeID: "n1", Machine: m, Bootstrap: true, ApplyTimeout: 2 * time.Second})
    if err != nil { t.Fatalf("new: %v", err) }

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Stop()
    awaitLeader(t, n)

    select {
    case li, ok := <-n.LeaderCh():
        if !ok { t.Fatalf("leader channel closed unexpectedly") }
        if li.ID != "n1" { t.Fatalf("leader id = %q, want n1", li.ID) }
    case <-time.After(2 * time.Second):
        t.Fatalf("timed out waiting for leader event")
    }

    rc, err := n.Apply(createTx(t, "orders"), 0)
    if err != nil || !rc.OK() { t.Fatalf("create: %v %+v", err, rc) }
    if rc.ConsensusTimestamp.IsZero() { t.Fatalf("leader did not stamp the transaction") }
    rs, err := n.Apply(submitTx(t, rc.TopicID, "hello"), 0)
    if err != nil || rs.SequenceNumber != 1 { t.Fatalf("submit: %v %+v", err, rs) }
    if !rs.ConsensusTimestamp.After(rc.ConsensusTimestamp) { t.Fatalf("timestamps did not advance") }
}

func TestRaft_ApplyRequiresStart(t *testing.T) {
    n, err := New(Options{NodeID: "n1", Machine: newMachine(t)})
    if err != nil { t.Fatalf("new: %v", err) }
    if _, err := n.Apply(createTx(t, "x"), time.Second); !errors.Is(err, c.ErrNotStarted) { t.Fatalf("err = %v", err) }
    if _, err := New(Options{NodeID: "n1"}); err == nil { t.Fatalf("nil machine accepted") }
}
