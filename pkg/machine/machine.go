// Package machine is the deterministic topic state machine. It applies an
// ordered stream of transactions to a store.Store and emits a Receipt for
// each one.
//
// Given the same configuration, initial store content and transaction
// stream, every replica produces byte-identical state and receipts. The
// machine reads no clock of its own: all time comes from the consensus
// timestamps on the transactions.
package machine

import (
    "context"
    "encoding/binary"
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    "github.com/amirimatin/go-topics/pkg/auth"
    "github.com/amirimatin/go-topics/pkg/billing"
    "github.com/amirimatin/go-topics/pkg/config"
    "github.com/amirimatin/go-topics/pkg/expiry"
    "github.com/amirimatin/go-topics/pkg/internal/logutil"
    "github.com/amirimatin/go-topics/pkg/observability/metrics"
    "github.com/amirimatin/go-topics/pkg/observability/tracing"
    "github.com/amirimatin/go-topics/pkg/store"
    "github.com/amirimatin/go-topics/pkg/topic"
)

// Options wires the machine's collaborators.
type Options struct {
    Store   store.Store
    Billing billing.Billing
    // Verifier checks signatures; nil selects auth.Ed25519Verifier.
    Verifier auth.Verifier
    Limits   config.Limits
    Logger   *log.Logger
}

func (o Options) Validate() error {
    if o.Store == nil { return errors.New("machine: nil Store") }
    if o.Billing == nil { return errors.New("machine: nil Billing") }
    if err := o.Limits.Validate(); err != nil { return fmt.Errorf("machine: limits: %w", err) }
    return nil
}

// orderKey is the (timestamp, node) pair transactions are ordered by.
type orderKey struct {
    ns   int64
    node string
}

func (k orderKey) after(o orderKey) bool {
    if k.ns != o.ns { return k.ns > o.ns }
    return k.node > o.node
}

func (k orderKey) bytes() []byte {
    return append(binary.BigEndian.AppendUint64(nil, uint64(k.ns)), k.node...)
}

func parseOrderKey(b []byte) orderKey {
    if len(b) < 8 { return orderKey{} }
    return orderKey{ns: int64(binary.BigEndian.Uint64(b[:8])), node: string(b[8:])}
}

type Machine struct {
    mu        sync.Mutex
    store     store.Store
    billing   billing.Billing
    gate      *auth.Gate
    limits    config.Limits
    index     *expiry.Index
    logger    *log.Logger
    obsMu     sync.RWMutex
    observers []Observer
    last      orderKey
    seen      bool
    halted    error
    // genesis is the billing state at construction, restored by Reset.
    genesis []byte
}

// New builds a machine over the current store content.
func New(opts Options) (*Machine, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    m := &Machine{
        store:   opts.Store,
        billing: opts.Billing,
        gate:    auth.New(opts.Verifier),
        limits:  opts.Limits,
        index:   expiry.New(),
        logger:  logutil.Component(opts.Logger, "machine"),
    }
    if s, ok := opts.Billing.(Snapshotter); ok {
        b, err := s.Snapshot()
        if err != nil { return nil, fmt.Errorf("machine: billing snapshot: %w", err) }
        m.genesis = b
    }
    if err := m.reload(); err != nil { return nil, err }
    return m, nil
}

// reload rebuilds the in-memory view (index, last ordering key) from the store.
func (m *Machine) reload() error {
    states, err := store.All(m.store)
    if err != nil { return err }
    m.index.Rebuild(states)
    m.last, m.seen = orderKey{}, false
    err = m.store.View(func(tx store.Txn) error {
        b, ok, err := tx.GetMeta(store.MetaLastConsensusNs)
        if err != nil || !ok { return err }
        m.last, m.seen = parseOrderKey(b), true
        return nil
    })
    if err != nil { return err }
    metrics.ActiveTopics.Set(float64(m.index.Len()))
    return nil
}

// Subscribe registers an observer for receipts.
func (m *Machine) Subscribe(o Observer) {
    m.obsMu.Lock(); defer m.obsMu.Unlock()
    m.observers = append(m.observers, o)
}

func (m *Machine) publish(r Receipt, tx Transaction) {
    m.obsMu.RLock(); defer m.obsMu.RUnlock()
    for _, o := range m.observers { o.OnReceipt(r, tx) }
}

// Halted returns the fatal error that stopped the machine, or nil.
func (m *Machine) Halted() error {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.halted
}

// LastConsensus is the timestamp of the last processed transaction.
func (m *Machine) LastConsensus() time.Time {
    m.mu.Lock(); defer m.mu.Unlock()
    if !m.seen { return time.Time{} }
    return time.Unix(0, m.last.ns).UTC()
}

func (m *Machine) Limits() config.Limits { return m.limits }

// Index exposes the expiration index for inspection.
func (m *Machine) Index() *expiry.Index { return m.index }

// Topic reads the committed state of id. Deleted topics are returned with
// Deleted set; reclaimed topics are not found.
func (m *Machine) Topic(id topic.ID) (topic.State, bool, error) {
    var (
        st topic.State
        ok bool
    )
    err := m.store.View(func(tx store.Txn) error {
        var err error
        st, ok, err = tx.Get(id)
        return err
    })
    return st, ok, err
}

// Topics lists every stored topic in ascending id order.
func (m *Machine) Topics() ([]topic.State, error) { return store.All(m.store) }

// effects run after the store transaction committed.
type effects []func()

func (e *effects) add(f func()) { *e = append(*e, f) }

// Process applies one ordered transaction. Policy failures are reported in
// the receipt with a nil error. A non-nil error means the transaction was not
// applied: ErrOutOfOrder, ErrHalted or a *FatalError.
func (m *Machine) Process(ctx context.Context, tx Transaction) (Receipt, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.process(ctx, tx)
}

func (m *Machine) process(ctx context.Context, tx Transaction) (Receipt, error) {
    r, _, err := m.apply(ctx, tx)
    return r, err
}

// apply is process returning the reclamation receipts of a round as well.
func (m *Machine) apply(ctx context.Context, tx Transaction) (Receipt, []Receipt, error) {
    if m.halted != nil { return Receipt{}, nil, ErrHalted }
    _, end := tracing.StartSpan(ctx, "machine.Process", "kind", string(tx.Kind), "tx", tx.TxID)
    defer end()
    start := time.Now()

    tx.ConsensusTimestamp = tx.ConsensusTimestamp.UTC()
    key := orderKey{ns: tx.ConsensusTimestamp.UnixNano(), node: tx.NodeID}
    if m.seen && !key.after(m.last) {
        return Receipt{}, nil, fmt.Errorf("%w: %s at %s", ErrOutOfOrder, tx.TxID, tx.ConsensusTimestamp.Format(time.RFC3339Nano))
    }

    rcpt := Receipt{TxID: tx.TxID, Kind: tx.Kind, ConsensusTimestamp: tx.ConsensusTimestamp}
    var (
        after   effects
        actions []Receipt
    )
    err := m.store.Update(func(st store.Txn) error {
        after = nil
        actions = nil
        if err := st.PutMeta(store.MetaLastConsensusNs, key.bytes()); err != nil { return err }
        policy, err := m.dedup(st, tx)
        if err != nil { return err }
        if policy == nil {
            policy, err = m.dispatch(ctx, st, tx, &rcpt, &after, &actions)
            if err != nil { return err }
        }
        o, _ := OutcomeOf(policy)
        rcpt.Outcome = o
        if policy != nil { rcpt.Reason = policy.Error() }
        return nil
    })
    if err != nil { return Receipt{}, nil, m.fail(tx, err) }

    m.last, m.seen = key, true
    for _, f := range after { f() }
    metrics.ApplyLatency.Observe(time.Since(start).Seconds())
    metrics.Transactions.WithLabelValues(string(tx.Kind), string(rcpt.Outcome)).Inc()
    metrics.ActiveTopics.Set(float64(m.index.Len()))
    if rcpt.OK() {
        logutil.Debugf(m.logger, "applied %s", rcpt)
    } else {
        logutil.Debugf(m.logger, "rejected %s: %s", rcpt, rcpt.Reason)
    }
    for _, a := range actions {
        metrics.Reclaim.WithLabelValues(string(a.Action)).Inc()
        m.publish(a, tx)
    }
    m.publish(rcpt, tx)
    return rcpt, actions, nil
}

// fail latches the machine into the halted state.
func (m *Machine) fail(tx Transaction, err error) error {
    fe := &FatalError{TxID: tx.TxID, Err: err}
    m.halted = fe
    metrics.Halts.Inc()
    logutil.Errorf(m.logger, "halting: %v", fe)
    return fe
}

// dedup rejects a TxID seen within the dedup window and records new ones.
func (m *Machine) dedup(st store.Txn, tx Transaction) (policy, fatal error) {
    if tx.TxID == "" { return fmt.Errorf("%w: missing transaction id", topic.ErrInvalidTransaction), nil }
    k := store.MetaDedupPrefix + tx.TxID
    b, ok, err := st.GetMeta(k)
    if err != nil { return nil, err }
    if ok && len(b) == 8 {
        seenAt := time.Unix(0, int64(binary.BigEndian.Uint64(b)))
        if tx.ConsensusTimestamp.Sub(seenAt) < time.Duration(m.limits.DedupWindow) {
            return fmt.Errorf("%w: %s", topic.ErrDuplicateTransaction, tx.TxID), nil
        }
    }
    return nil, st.PutMeta(k, binary.BigEndian.AppendUint64(nil, uint64(tx.ConsensusTimestamp.UnixNano())))
}

// dispatch runs the kind-specific operation. It returns the policy error
// (recorded in the receipt) and any storage error separately.
func (m *Machine) dispatch(ctx context.Context, st store.Txn, tx Transaction, r *Receipt, after *effects, actions *[]Receipt) (policy, fatal error) {
    split := func(err error) error {
        if errors.Is(err, topic.ErrStorageFailure) { return err }
        if _, ok := OutcomeOf(err); ok {
            policy = err
            return nil
        }
        return err
    }
    switch tx.Kind {
    case KindCreate:
        var b CreateTopicBody
        if err := decodeBody(tx.Body, &b); err != nil { return err, nil }
        return policy, split(m.create(st, tx, b, r, after))
    case KindUpdate:
        var b UpdateTopicBody
        if err := decodeBody(tx.Body, &b); err != nil { return err, nil }
        return policy, split(m.update(st, tx, b, r, after))
    case KindSubmit:
        var b SubmitMessageBody
        if err := decodeBody(tx.Body, &b); err != nil { return err, nil }
        return policy, split(m.submit(st, tx, b, r))
    case KindDelete:
        var b DeleteTopicBody
        if err := decodeBody(tx.Body, &b); err != nil { return err, nil }
        return policy, split(m.remove(st, tx, b, r, after))
    case KindRound:
        acts, err := m.reclaim(ctx, st, tx, after)
        if err != nil { return nil, err }
        *actions = acts
        return nil, m.pruneDedup(st, tx.ConsensusTimestamp)
    default:
        return fmt.Errorf("%w: unknown kind %q", topic.ErrInvalidTransaction, tx.Kind), nil
    }
}

func (m *Machine) nextID(st store.Txn) (topic.ID, error) {
    num := m.limits.FirstTopicNum
    b, ok, err := st.GetMeta(store.MetaNextNum)
    if err != nil { return topic.ID{}, err }
    if ok && len(b) == 8 { num = binary.BigEndian.Uint64(b) }
    if err := st.PutMeta(store.MetaNextNum, binary.BigEndian.AppendUint64(nil, num+1)); err != nil { return topic.ID{}, err }
    return topic.ID{Shard: m.limits.Shard, Realm: m.limits.Realm, Num: num}, nil
}

func (m *Machine) create(st store.Txn, tx Transaction, b CreateTopicBody, r *Receipt, after *effects) error {
    ts := tx.ConsensusTimestamp
    draft := newTopic(topic.ID{}, b, ts)
    if err := validateTopic(draft, m.limits, m.billing.Exists); err != nil { return err }
    if err := m.gate.Authorize(draft, auth.OpCreate, tx.SigningBytes(), tx.Signatures); err != nil { return err }
    id, err := m.nextID(st)
    if err != nil { return err }
    created := newTopic(id, b, ts)
    if err := st.Put(created); err != nil { return err }
    r.TopicID, r.RunningHash, r.Expiration = id, created.RunningHash, created.Expiration
    after.add(func() { m.index.Track(id, created.Expiration) })
    return nil
}

func (m *Machine) update(st store.Txn, tx Transaction, b UpdateTopicBody, r *Receipt, after *effects) error {
    r.TopicID = b.TopicID
    cur, ok, err := st.Get(b.TopicID)
    if err != nil { return err }
    if ok { r.current(cur) }
    if err := live(cur, ok, b.TopicID); err != nil { return err }
    if err := m.gate.Authorize(cur, auth.OpUpdate, tx.SigningBytes(), tx.Signatures); err != nil { return err }
    // installing a new admin key requires proving control of it
    if b.AdminKey != nil && !b.ClearAdminKey && (cur.AdminKey == nil || !cur.AdminKey.Equal(*b.AdminKey)) {
        if err := b.AdminKey.Validate(); err != nil { return invalidConfig(err) }
        if err := m.gate.Require(auth.OpUpdate, *b.AdminKey, tx.SigningBytes(), tx.Signatures); err != nil { return err }
    }
    next, err := applyUpdate(cur, b, tx.ConsensusTimestamp, m.limits)
    if err != nil { return err }
    if err := validateTopic(next, m.limits, m.billing.Exists); err != nil { return err }
    if err := st.Put(next); err != nil { return err }
    r.SequenceNumber, r.RunningHash, r.Expiration = next.SequenceNumber, next.RunningHash, next.Expiration
    if !next.Expiration.Equal(cur.Expiration) {
        after.add(func() { m.index.Track(next.ID, next.Expiration) })
    }
    return nil
}

func (m *Machine) submit(st store.Txn, tx Transaction, b SubmitMessageBody, r *Receipt) error {
    r.TopicID = b.TopicID
    cur, ok, err := st.Get(b.TopicID)
    if err != nil { return err }
    if ok { r.current(cur) }
    if err := live(cur, ok, b.TopicID); err != nil { return err }
    if err := m.gate.Authorize(cur, auth.OpSubmit, tx.SigningBytes(), tx.Signatures); err != nil { return err }
    if cur.Expired(tx.ConsensusTimestamp) { return fmt.Errorf("%w: %s", topic.ErrTopicExpired, b.TopicID) }
    if err := checkPayload(b.Message, m.limits.MaxMessageBytes); err != nil { return err }
    next := appendMessage(cur, tx.ConsensusTimestamp, b.Message)
    if err := st.Put(next); err != nil { return err }
    r.SequenceNumber, r.RunningHash, r.Expiration = next.SequenceNumber, next.RunningHash, next.Expiration
    metrics.Messages.Inc()
    return nil
}

func (m *Machine) remove(st store.Txn, tx Transaction, b DeleteTopicBody, r *Receipt, after *effects) error {
    r.TopicID = b.TopicID
    cur, ok, err := st.Get(b.TopicID)
    if err != nil { return err }
    if ok { r.current(cur) }
    if err := live(cur, ok, b.TopicID); err != nil { return err }
    if err := m.gate.Authorize(cur, auth.OpDelete, tx.SigningBytes(), tx.Signatures); err != nil { return err }
    next := markDeleted(cur)
    if err := st.Put(next); err != nil { return err }
    r.SequenceNumber, r.RunningHash, r.Expiration = next.SequenceNumber, next.RunningHash, next.Expiration
    after.add(func() { m.index.Remove(next.ID) })
    return nil
}

// pruneDedup forgets transaction ids that fell out of the window.
func (m *Machine) pruneDedup(st store.Txn, now time.Time) error {
    var stale []string
    err := st.ScanMeta(store.MetaDedupPrefix, func(k string, v []byte) error {
        if len(v) != 8 { stale = append(stale, k); return nil }
        seenAt := time.Unix(0, int64(binary.BigEndian.Uint64(v)))
        if now.Sub(seenAt) >= time.Duration(m.limits.DedupWindow) { stale = append(stale, k) }
        return nil
    })
    if err != nil { return err }
    for _, k := range stale {
        if err := st.DeleteMeta(k); err != nil { return err }
    }
    return nil
}
