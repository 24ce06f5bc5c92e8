package node

import (
    "context"
    "encoding/json"
    "errors"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/store/memory"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
    "github.com/amirimatin/go-topics/pkg/transport/httpjson"
)

func TestOptions_Validate(t *testing.T) {
    if _, err := New(Options{}); err == nil { t.Fatalf("expected error for empty options") }
    if _, err := New(Options{NodeID: "n"}); err == nil { t.Fatalf("expected error for nil machine") }
}

func TestNode_SingleNode(t *testing.T) {
    n := newTestNode(t, "n1", true, nil, nil)
    await(t, "leadership", func() bool { return n.Health() == nil })

    ctx := context.Background()
    feed, cancel := n.Subscribe(ctx, topic.ID{})
    defer cancel()

    rc, err := n.Submit(ctx, createTx(t, "single"))
    if err != nil || !rc.OK() { t.Fatalf("create: %v %+v", err, rc) }
    rs, err := n.Submit(ctx, submitTx(t, rc.TopicID, "hello"))
    if err != nil || !rs.OK() || rs.SequenceNumber != 1 { t.Fatalf("submit: %v %+v", err, rs) }

    st, ok, err := n.Topic(rc.TopicID)
    if err != nil || !ok || st.RunningHash != rs.RunningHash { t.Fatalf("topic: %v %v %+v", ok, err, st) }

    // the feed sees both receipts in order, among round boundaries
    var got []machine.Kind
    timeout := time.After(5 * time.Second)
    for len(got) < 2 {
        select {
        case r := <-feed:
            if r.Kind != machine.KindRound { got = append(got, r.Kind) }
        case <-timeout:
            t.Fatalf("feed delivered %v", got)
        }
    }
    if got[0] != machine.KindCreate || got[1] != machine.KindSubmit { t.Fatalf("feed order = %v", got) }

    // rounds keep consensus time moving
    before := n.m.LastConsensus()
    await(t, "round boundary", func() bool { return n.m.LastConsensus().After(before) })

    // management API
    addr := n.mgmtAddr()
    c := httpjson.NewClient(2 * time.Second)
    data, err := c.GetStatus(ctx, addr)
    if err != nil { t.Fatalf("status: %v", err) }
    var s Status
    if err := json.Unmarshal(data, &s); err != nil { t.Fatalf("decode status: %v", err) }
    if !s.Healthy || !s.IsLeader || s.LeaderID != "n1" || s.LeaderAddr != addr { t.Fatalf("status = %+v", s) }

    resp, err := c.Submit(ctx, addr, transport.SubmitRequest{Tx: submitTx(t, rc.TopicID, "via api")})
    if err != nil || resp.Receipt.SequenceNumber != 2 { t.Fatalf("api submit: %v %+v", err, resp) }
    if _, err := c.Submit(ctx, addr, transport.SubmitRequest{Tx: machine.Transaction{TxID: "r", Kind: machine.KindRound}}); err == nil {
        t.Fatalf("client round accepted")
    }
    tr, err := c.GetTopic(ctx, addr, rc.TopicID)
    if err != nil || !tr.Found || tr.Topic.SequenceNumber != 2 { t.Fatalf("get topic: %v %+v", err, tr) }
    if _, err := c.GetMessages(ctx, addr, transport.MessagesRequest{ID: rc.TopicID}); err == nil {
        t.Fatalf("messages served without an archive")
    }

    if err := n.Stop(ctx); err != nil { t.Fatalf("stop: %v", err) }
    if err := n.Health(); !errors.Is(err, ErrNotRunning) { t.Fatalf("health after stop: %v", err) }
    // Stop closes the feed
    for range feed {}
}

func TestNode_HaltsOnStorageFailure(t *testing.T) {
    fs := &flakyStore{Store: memory.New()}
    n := newTestNode(t, "n1", true, fs, nil)
    await(t, "leadership", func() bool { return n.Health() == nil })
    ctx := context.Background()
    if rc, err := n.Submit(ctx, createTx(t, "ok")); err != nil || !rc.OK() { t.Fatalf("create: %v", err) }

    fs.breakNow()
    // a round boundary may hit the broken store first
    if _, err := n.Submit(ctx, createTx(t, "lost")); !errors.Is(err, topic.ErrStorageFailure) && !errors.Is(err, machine.ErrHalted) {
        t.Fatalf("submit on broken store: %v", err)
    }
    if _, err := n.Submit(ctx, createTx(t, "after")); !errors.Is(err, machine.ErrHalted) { t.Fatalf("submit after halt: %v", err) }
    if err := n.Health(); !errors.Is(err, machine.ErrHalted) { t.Fatalf("health = %v", err) }
    await(t, "halt noticed", func() bool { return n.halted.Load() })
    s, _ := n.Status(ctx)
    if s.Healthy || s.Halted == "" { t.Fatalf("status = %+v", s) }
}
