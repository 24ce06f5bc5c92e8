package machine

import (
    "context"
    "fmt"
    "time"

    "github.com/amirimatin/go-topics/pkg/billing"
    "github.com/amirimatin/go-topics/pkg/internal/logutil"
    "github.com/amirimatin/go-topics/pkg/observability/tracing"
    "github.com/amirimatin/go-topics/pkg/store"
    "github.com/amirimatin/go-topics/pkg/topic"
)

// reclaim handles every topic due at the round's consensus time, in
// expiration then id order. A topic with a funded auto-renew account is
// extended; anything else is removed from the store for good.
func (m *Machine) reclaim(ctx context.Context, st store.Txn, tx Transaction, after *effects) ([]Receipt, error) {
    _, end := tracing.StartSpan(ctx, "machine.Reclaim")
    defer end()
    asOf := tx.ConsensusTimestamp
    var out []Receipt
    for _, id := range m.index.Due(asOf) {
        cur, ok, err := st.Get(id)
        if err != nil { return nil, err }
        if !ok || cur.Deleted {
            after.add(func() { m.index.Remove(id) })
            continue
        }
        if !cur.Expired(asOf) {
            // index is advisory; trust the store
            exp := cur.Expiration
            after.add(func() { m.index.Track(id, exp) })
            continue
        }
        r := Receipt{
            TxID:               tx.TxID,
            Kind:               KindRound,
            TopicID:            id,
            SequenceNumber:     cur.SequenceNumber,
            RunningHash:        cur.RunningHash,
            ConsensusTimestamp: asOf,
            Outcome:            OutcomeSuccess,
        }
        if renewed, why := m.renew(cur); why == "" {
            if err := st.Put(renewed); err != nil { return nil, err }
            r.Action, r.Expiration = ActionAutoRenewed, renewed.Expiration
            after.add(func() { m.index.Track(id, renewed.Expiration) })
            logutil.Infof(m.logger, "topic %s auto-renewed until %s", id, renewed.Expiration.Format(time.RFC3339))
        } else {
            if err := st.Delete(id); err != nil { return nil, err }
            r.Action, r.Reason, r.Expiration = ActionReclaimed, why, cur.Expiration
            after.add(func() { m.index.Remove(id) })
            logutil.Infof(m.logger, "topic %s reclaimed: %s", id, why)
        }
        out = append(out, r)
    }
    return out, nil
}

// renew asks billing to extend cur by its auto-renew period. It returns the
// renewed state, or the reason the topic must be reclaimed instead.
func (m *Machine) renew(cur topic.State) (topic.State, string) {
    if cur.AutoRenewAccount == nil { return topic.State{}, "no auto-renew account" }
    res := m.billing.AttemptAutoRenew(*cur.AutoRenewAccount, cur.ID, cur.AutoRenewSeconds, cur.Expiration)
    switch res.Status {
    case billing.StatusRenewed:
        newExp := res.NewExpiration.UTC()
        if !newExp.After(cur.Expiration) {
            return topic.State{}, fmt.Sprintf("renewal to %s does not extend expiration", newExp.Format(time.RFC3339Nano))
        }
        out := cur.Clone()
        out.Expiration = newExp
        return out, ""
    case billing.StatusInsufficientFunds:
        return topic.State{}, fmt.Sprintf("account %s has insufficient funds", cur.AutoRenewAccount)
    case billing.StatusAccountNotFound:
        return topic.State{}, fmt.Sprintf("account %s not found", cur.AutoRenewAccount)
    default:
        return topic.State{}, fmt.Sprintf("unknown renewal status %q", res.Status)
    }
}
