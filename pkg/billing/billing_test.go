package billing

import (
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/topic"
)

var (
    acct = topic.AccountID{Num: 98}
    tid  = topic.ID{Num: 1001}
    exp  = time.Unix(1700000000, 0).UTC()
)

func TestLedger_RenewDebitsFee(t *testing.T) {
    l := NewLedger(2, map[topic.AccountID]uint64{acct: 100})
    res := l.AttemptAutoRenew(acct, tid, 30, exp)
    if res.Status != StatusRenewed { t.Fatalf("status = %s", res.Status) }
    if !res.NewExpiration.Equal(exp.Add(30 * time.Second)) { t.Fatalf("new expiration = %v", res.NewExpiration) }
    if b, _ := l.Balance(acct); b != 40 { t.Fatalf("balance = %d, want 40", b) }

    if res := l.AttemptAutoRenew(acct, tid, 30, exp); res.Status != StatusInsufficientFunds {
        t.Fatalf("second renewal status = %s", res.Status)
    }
    if b, _ := l.Balance(acct); b != 40 { t.Fatalf("failed renewal must not debit, balance = %d", b) }
}

func TestLedger_UnknownAccount(t *testing.T) {
    l := NewLedger(1, nil)
    if l.Exists(acct) { t.Fatalf("empty ledger has no accounts") }
    if res := l.AttemptAutoRenew(acct, tid, 1, exp); res.Status != StatusAccountNotFound { t.Fatalf("status = %s", res.Status) }
    l.Credit(acct, 5)
    if !l.Exists(acct) { t.Fatalf("credit must create the account") }
}

func TestLedger_SnapshotRestore(t *testing.T) {
    l := NewLedger(1, map[topic.AccountID]uint64{acct: 7, {Num: 3}: 9})
    snap, err := l.Snapshot()
    if err != nil { t.Fatalf("snapshot: %v", err) }
    l.Credit(acct, 100)

    if err := l.Restore(snap); err != nil { t.Fatalf("restore: %v", err) }
    if b, _ := l.Balance(acct); b != 7 { t.Fatalf("balance after restore = %d", b) }
    if b, ok := l.Balance(topic.AccountID{Num: 3}); !ok || b != 9 { t.Fatalf("second account = %d %v", b, ok) }

    again, _ := l.Snapshot()
    if string(again) != string(snap) { t.Fatalf("snapshot is not stable:\n%s\n%s", snap, again) }
}
