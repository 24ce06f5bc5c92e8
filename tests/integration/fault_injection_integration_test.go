//go:build integration

package integration

import (
    "context"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/bootstrap"
    "github.com/amirimatin/go-topics/pkg/machine"
)

// A follower that is down while the topic advances rebuilds its store from
// the raft log on restart and catches up to the same running hash.
func TestFollowerRestart_ReplaysAndConverges(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
    defer cancel()
    root := t.TempDir()
    durable := func(c *bootstrap.Config) {
        c.Store = bootstrap.StoreBolt
        c.DataDir = filepath.Join(root, c.NodeID)
    }
    n1, n2, n3 := mustStartThreeNodes(t, ctx, durable)
    defer n1.Close()
    defer n2.Close()

    cli := newClient()
    id := createTopic(t, ctx, cli, mgmt(1))
    submit(t, ctx, cli, mgmt(1), machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte("m1")})
    waitSeq(t, id, 1, n1, n2, n3)

    _ = n3.Close()
    for _, msg := range []string{"m2", "m3", "m4"} {
        submit(t, ctx, cli, mgmt(2), machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte(msg)})
    }
    waitSeq(t, id, 4, n1, n2)

    cfg := config(3)
    cfg.SeedsCSV = seed()
    durable(&cfg)
    n3b := start(t, ctx, cfg)
    defer n3b.Close()
    waitSeq(t, id, 4, n1, n2, n3b)

    s, err := fetchStatus(ctx, cli, mgmt(3))
    if err != nil { t.Fatalf("status: %v", err) }
    if !s.Healthy || s.LeaderID == "" { t.Fatalf("restarted follower status = %+v", s) }
}
