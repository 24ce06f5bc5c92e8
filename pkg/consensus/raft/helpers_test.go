package raftcons

import (
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/billing"
    "github.com/amirimatin/go-topics/pkg/config"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/store/memory"
    "github.com/amirimatin/go-topics/pkg/topic"
)

func newMachine(t *testing.T) *machine.Machine {
    t.Helper()
    m, err := machine.New(machine.Options{Store: memory.New(), Billing: billing.NewLedger(0, nil), Limits: config.Default().Limits})
    if err != nil { t.Fatalf("machine: %v", err) }
    return m
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

func awaitLeader(t *testing.T, n *Node) {
    t.Helper()
    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        if n.IsLeader() { return }
        time.Sleep(50 * time.Millisecond)
    }
    t.Fatalf("%s did not become leader", n.opts.NodeID)
}

// awaitTopic waits until m has applied the given sequence number for id.
func awaitTopic(t *testing.T, m *machine.Machine, id topic.ID, seq uint64) topic.State {
    t.Helper()
    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        if st, ok, err := m.Topic(id); err == nil && ok && st.SequenceNumber == seq { return st }
        time.Sleep(50 * time.Millisecond)
    }
    t.Fatalf("topic %s never reached sequence %d", id, seq)
    return topic.State{}
}
