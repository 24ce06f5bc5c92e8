package raftcons

import (
    "bytes"
    "errors"
    "io"
    "testing"
    "time"

    r "github.com/hashicorp/raft"

    "github.com/amirimatin/go-topics/pkg/billing"
    "github.com/amirimatin/go-topics/pkg/config"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/store"
    "github.com/amirimatin/go-topics/pkg/store/memory"
    "github.com/amirimatin/go-topics/pkg/topic"
)

func logOf(t *testing.T, tx machine.Transaction, at time.Time, node string) *r.Log {
    t.Helper()
    tx.ConsensusTimestamp, tx.NodeID = at, node
    data, err := machine.MarshalTransaction(tx)
    if err != nil { t.Fatalf("marshal: %v", err) }
    return &r.Log{Type: r.LogCommand, Data: data}
}

func result(t *testing.T, v interface{}) applyResult {
    t.Helper()
    res, ok := v.(applyResult)
    if !ok { t.Fatalf("apply returned %T", v) }
    return res
}

func TestTopicFSM_ApplyCreateAndSubmit(t *testing.T) {
    m := newMachine(t)
    fsm := newTopicFSM(m, nil)
    t0 := time.Unix(1700000000, 0).UTC()

    res := result(t, fsm.Apply(logOf(t, createTx(t, "orders"), t0, "n1")))
    if res.Err != nil || !res.Receipt.OK() { t.Fatalf("create: %+v", res) }
    id := res.Receipt.TopicID
    if id.Num != 1001 { t.Fatalf("first topic = %s", id) }

    res = result(t, fsm.Apply(logOf(t, submitTx(t, id, "hello"), t0.Add(time.Second), "n1")))
    if res.Err != nil || res.Receipt.SequenceNumber != 1 { t.Fatalf("submit: %+v", res) }
}

func TestTopicFSM_NormalizesBackwardsClock(t *testing.T) {
    m := newMachine(t)
    fsm := newTopicFSM(m, nil)
    t0 := time.Unix(1700000000, 0).UTC()

    res := result(t, fsm.Apply(logOf(t, createTx(t, "a"), t0, "n1")))
    if res.Err != nil { t.Fatalf("create: %v", res.Err) }
    // a new leader with a slower clock
    res = result(t, fsm.Apply(logOf(t, createTx(t, "b"), t0.Add(-time.Minute), "n2")))
    if res.Err != nil { t.Fatalf("second create: %v", res.Err) }
    if want := t0.Add(time.Nanosecond); !res.Receipt.ConsensusTimestamp.Equal(want) {
        t.Fatalf("timestamp = %s, want %s", res.Receipt.ConsensusTimestamp, want)
    }
}

func TestTopicFSM_MalformedEntry(t *testing.T) {
    fsm := newTopicFSM(newMachine(t), nil)
    res := result(t, fsm.Apply(&r.Log{Type: r.LogCommand, Data: []byte("{")}))
    if res.Err == nil { t.Fatalf("expected decode error") }
    if v := fsm.Apply(&r.Log{Type: r.LogNoop}); v != nil { t.Fatalf("noop returned %v", v) }
}

type sink struct {
    bytes.Buffer
    cancelled bool
}

func (s *sink) ID() string    { return "test" }
func (s *sink) Cancel() error { s.cancelled = true; return nil }
func (s *sink) Close() error  { return nil }

func TestTopicFSM_SnapshotRestore(t *testing.T) {
    m := newMachine(t)
    fsm := newTopicFSM(m, nil)
    t0 := time.Unix(1700000000, 0).UTC()
    res := result(t, fsm.Apply(logOf(t, createTx(t, "snap"), t0, "n1")))
    id := res.Receipt.TopicID
    result(t, fsm.Apply(logOf(t, submitTx(t, id, "x"), t0.Add(time.Second), "n1")))

    snap, err := fsm.Snapshot()
    if err != nil { t.Fatalf("snapshot: %v", err) }
    var s sink
    if err := snap.Persist(&s); err != nil || s.cancelled { t.Fatalf("persist: %v", err) }

    other := newMachine(t)
    if err := newTopicFSM(other, nil).Restore(io.NopCloser(bytes.NewReader(s.Bytes()))); err != nil {
        t.Fatalf("restore: %v", err)
    }
    st, ok, err := other.Topic(id)
    if err != nil || !ok { t.Fatalf("restored topic: %v %v", ok, err) }
    want, _, _ := m.Topic(id)
    if st.RunningHash != want.RunningHash || st.SequenceNumber != 1 { t.Fatalf("restored %+v", st) }
    if !other.LastConsensus().Equal(m.LastConsensus()) { t.Fatalf("last consensus not restored") }
}

// brokenStore fails every update once broken is set.
type brokenStore struct {
    store.Store
    broken bool
}

func (b *brokenStore) Update(fn func(store.Txn) error) error {
    if b.broken { return store.Failure("commit", errors.New("disk full")) }
    return b.Store.Update(fn)
}

func TestTopicFSM_ReportsFatal(t *testing.T) {
    bs := &brokenStore{Store: memory.New()}
    m, err := machine.New(machine.Options{Store: bs, Billing: billing.NewLedger(0, nil), Limits: config.Default().Limits})
    if err != nil { t.Fatalf("machine: %v", err) }
    var reported []error
    fsm := newTopicFSM(m, func(err error) { reported = append(reported, err) })
    t0 := time.Unix(1700000000, 0).UTC()

    if res := result(t, fsm.Apply(logOf(t, createTx(t, "a"), t0, "n1"))); res.Err != nil { t.Fatalf("healthy apply: %v", res.Err) }
    bs.broken = true
    res := result(t, fsm.Apply(logOf(t, createTx(t, "b"), t0.Add(time.Second), "n1")))
    if !errors.Is(res.Err, topic.ErrStorageFailure) { t.Fatalf("err = %v", res.Err) }
    res = result(t, fsm.Apply(logOf(t, createTx(t, "c"), t0.Add(2*time.Second), "n1")))
    if !errors.Is(res.Err, machine.ErrHalted) { t.Fatalf("after halt err = %v", res.Err) }
    if len(reported) != 1 { t.Fatalf("fatal reported %d times", len(reported)) }
}
