//go:build integration

package integration

import (
    "context"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/transport"
)

func TestThreeNodes_GossipJoinAndForwardedSubmit(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()
    n1, n2, n3 := mustStartThreeNodes(t, ctx, nil)
    defer n1.Close()
    defer n2.Close()
    defer n3.Close()

    cli := newClient()
    // n3 is a follower; its API forwards to n1
    id := createTopic(t, ctx, cli, mgmt(3))
    for _, msg := range []string{"one", "two", "three"} {
        submit(t, ctx, cli, mgmt(2), machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte(msg)})
    }
    waitSeq(t, id, 3, n1, n2, n3)

    resp, err := cli.GetTopic(ctx, mgmt(3), id)
    if err != nil || !resp.Found || resp.Topic.SequenceNumber != 3 { t.Fatalf("follower topic = %+v %v", resp, err) }

    s, err := fetchStatus(ctx, cli, mgmt(2))
    if err != nil { t.Fatalf("status: %v", err) }
    if !s.Healthy || s.LeaderID != "n1" || s.IsLeader { t.Fatalf("follower status = %+v", s) }
    if len(s.Members) != 3 { t.Fatalf("members = %d", len(s.Members)) }
}

func TestLeaderChange_TopicsSurvive(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()
    n1, n2, n3 := mustStartThreeNodes(t, ctx, nil)
    defer n2.Close()
    defer n3.Close()

    cli := newClient()
    id := createTopic(t, ctx, cli, mgmt(1))
    submit(t, ctx, cli, mgmt(1), machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte("before")})
    waitSeq(t, id, 1, n1, n2, n3)

    _ = n1.Close()

    var leader string
    waitUntil(t, 20*time.Second, func() error {
        s, err := fetchStatus(ctx, cli, mgmt(2))
        if err != nil { return err }
        if s.LeaderID != "n2" && s.LeaderID != "n3" { return errNotYet }
        leader = s.LeaderID
        return nil
    })
    // the new leader keeps the chain going from where it stopped
    r := submit(t, ctx, cli, mgmt(3), machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte("after")})
    if r.SequenceNumber != 2 { t.Fatalf("seq after failover = %d (leader %s)", r.SequenceNumber, leader) }
    waitSeq(t, id, 2, n2, n3)
}

func TestLeave_RemovesVoterAndStream(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()
    n1, n2, n3 := mustStartThreeNodes(t, ctx, nil)
    defer n1.Close()
    defer n2.Close()

    cli := newClient()
    id := createTopic(t, ctx, cli, mgmt(1))

    got := make(chan machine.Receipt, 4)
    sctx, stop := context.WithCancel(ctx)
    defer stop()
    go func() { _ = cli.Stream(sctx, mgmt(2), id, func(r machine.Receipt) { got <- r }) }()
    time.Sleep(300 * time.Millisecond)
    submit(t, ctx, cli, mgmt(1), machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte("streamed")})
    select {
    case r := <-got:
        if r.TopicID != id || r.SequenceNumber != 1 { t.Fatalf("streamed %+v", r) }
    case <-time.After(10 * time.Second):
        t.Fatalf("no receipt on follower stream")
    }

    resp, err := cli.PostLeave(ctx, mgmt(1), transport.LeaveRequest{ID: "n3"})
    if err != nil || !resp.Accepted { t.Fatalf("leave n3: %+v %v", resp, err) }
    _ = n3.Close()
    waitVoters(t, n1, 2)
    waitUntil(t, 20*time.Second, func() error {
        s, err := fetchStatus(ctx, cli, mgmt(1))
        if err != nil { return err }
        for _, m := range s.Members {
            if m.ID == "n3" { return errNotYet }
        }
        return nil
    })
    // two voters still make progress
    submit(t, ctx, cli, mgmt(2), machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte("quorum of two")})
    waitSeq(t, id, 2, n1, n2)
}
