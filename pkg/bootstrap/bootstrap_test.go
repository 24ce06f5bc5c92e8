package bootstrap

import (
    "context"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-topics/pkg/transport/grpc"
)

func TestConfig_Validate(t *testing.T) {
    cases := []Config{
        {},
        {NodeID: "n1", Store: "rocksdb"},
        {NodeID: "n1", Store: StoreBolt},
        {NodeID: "n1", MgmtProto: "udp"},
    }
    for _, c := range cases {
        if err := c.Validate(); err == nil { t.Fatalf("config %+v accepted", c) }
    }
    if err := (Config{NodeID: "n1", Store: StoreLevelDB, DataDir: "/tmp/x"}).Validate(); err != nil { t.Fatalf("valid config: %v", err) }
}

func TestRun_SingleNodeWithArchive(t *testing.T) {
    dir := t.TempDir()
    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
    defer cancel()
    inst, err := Run(ctx, Config{
        NodeID:        "n1",
        Bootstrap:     true,
        MgmtAddr:      "127.0.0.1:0",
        GRPCAddr:      "127.0.0.1:0",
        DataDir:       dir,
        Store:         StoreBolt,
        ArchivePath:   filepath.Join(dir, "archive.db"),
        RaftAddr:      "127.0.0.1:0",
        RoundInterval: 100 * time.Millisecond,
    })
    if err != nil { t.Fatalf("run: %v", err) }
    defer inst.Close()

    deadline := time.Now().Add(10 * time.Second)
    for inst.Health() != nil {
        if time.Now().After(deadline) { t.Fatalf("no leader: %v", inst.Health()) }
        time.Sleep(50 * time.Millisecond)
    }

    // the gRPC listener serves the same node
    g := mgmtgrpc.NewClient(2 * time.Second)
    defer g.Close()
    var addr string
    for _, s := range inst.Servers {
        if _, ok := s.(*mgmtgrpc.Server); ok { addr = s.Addr() }
    }
    memo := "bootstrap"
    tx, _ := machine.NewTransaction(machine.KindCreate, machine.CreateTopicBody{Memo: &memo, AutoRenewSeconds: 7000000})
    resp, err := g.Submit(ctx, addr, transport.SubmitRequest{Tx: tx})
    if err != nil || !resp.Receipt.OK() { t.Fatalf("grpc submit: %v %+v", err, resp) }
    id := resp.Receipt.TopicID
    tx, _ = machine.NewTransaction(machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte("archived")})
    if _, err := inst.Submit(ctx, tx); err != nil { t.Fatalf("submit: %v", err) }

    // the archive trails the apply path
    for {
        msgs, err := inst.Archive.Messages(ctx, id, 1, 0)
        if err == nil && len(msgs) == 1 && string(msgs[0].Payload) == "archived" { break }
        if time.Now().After(deadline.Add(5 * time.Second)) { t.Fatalf("archive: %v %v", msgs, err) }
        time.Sleep(50 * time.Millisecond)
    }
    if _, err := inst.Archive.VerifyChain(ctx, id); err != nil { t.Fatalf("verify chain: %v", err) }
}
