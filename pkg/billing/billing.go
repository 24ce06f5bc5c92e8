// Package billing is the collaborator that funds topic auto-renewal.
//
// Ledger is the reference implementation: in-memory balances seeded from
// configuration, a fixed per-second rate and JSON snapshots. It is
// deterministic so every replica reaches the same renewal decision.
package billing

import (
    "encoding/json"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/amirimatin/go-topics/pkg/topic"
)

// Status is the result of an auto-renew attempt.
type Status string

const (
    StatusRenewed           Status = "Renewed"
    StatusInsufficientFunds Status = "InsufficientFunds"
    StatusAccountNotFound   Status = "AccountNotFound"
)

type RenewResult struct {
    Status        Status
    NewExpiration time.Time
}

// Billing debits an account to extend a topic's expiration.
type Billing interface {
    AttemptAutoRenew(account topic.AccountID, id topic.ID, seconds int64, currentExpiration time.Time) RenewResult
    Exists(account topic.AccountID) bool
}

// Ledger holds balances in tinybars. Fee for a renewal is
// RatePerSecond * seconds.
type Ledger struct {
    mu            sync.Mutex
    ratePerSecond uint64
    balances      map[topic.AccountID]uint64
}

func NewLedger(ratePerSecond uint64, balances map[topic.AccountID]uint64) *Ledger {
    l := &Ledger{ratePerSecond: ratePerSecond, balances: make(map[topic.AccountID]uint64, len(balances))}
    for k, v := range balances { l.balances[k] = v }
    return l
}

func (l *Ledger) Exists(account topic.AccountID) bool {
    l.mu.Lock(); defer l.mu.Unlock()
    _, ok := l.balances[account]
    return ok
}

func (l *Ledger) Balance(account topic.AccountID) (uint64, bool) {
    l.mu.Lock(); defer l.mu.Unlock()
    b, ok := l.balances[account]
    return b, ok
}

// Credit adds amount to account, creating it when absent.
func (l *Ledger) Credit(account topic.AccountID, amount uint64) {
    l.mu.Lock(); defer l.mu.Unlock()
    l.balances[account] += amount
}

// Fee is the cost of extending a topic by seconds.
func (l *Ledger) Fee(seconds int64) uint64 {
    if seconds <= 0 { return 0 }
    return l.ratePerSecond * uint64(seconds)
}

func (l *Ledger) AttemptAutoRenew(account topic.AccountID, id topic.ID, seconds int64, currentExpiration time.Time) RenewResult {
    fee := l.Fee(seconds)
    l.mu.Lock(); defer l.mu.Unlock()
    bal, ok := l.balances[account]
    if !ok { return RenewResult{Status: StatusAccountNotFound} }
    if bal < fee { return RenewResult{Status: StatusInsufficientFunds} }
    l.balances[account] = bal - fee
    return RenewResult{Status: StatusRenewed, NewExpiration: currentExpiration.Add(time.Duration(seconds) * time.Second)}
}

type snapshotEntry struct {
    Account topic.AccountID `json:"account"`
    Balance uint64          `json:"balance"`
}

// Snapshot encodes balances as stable JSON ordered by account.
func (l *Ledger) Snapshot() ([]byte, error) {
    l.mu.Lock(); defer l.mu.Unlock()
    arr := make([]snapshotEntry, 0, len(l.balances))
    for a, b := range l.balances { arr = append(arr, snapshotEntry{Account: a, Balance: b}) }
    sort.Slice(arr, func(i, j int) bool { return topic.ID(arr[i].Account).Less(topic.ID(arr[j].Account)) })
    return json.Marshal(struct {
        Version  int             `json:"version"`
        Balances []snapshotEntry `json:"balances"`
    }{Version: 1, Balances: arr})
}

func (l *Ledger) Restore(buf []byte) error {
    var snap struct {
        Version  int             `json:"version"`
        Balances []snapshotEntry `json:"balances"`
    }
    if err := json.Unmarshal(buf, &snap); err != nil { return fmt.Errorf("billing: restore: %w", err) }
    if snap.Version != 1 { return fmt.Errorf("billing: unsupported snapshot version %d", snap.Version) }
    l.mu.Lock(); defer l.mu.Unlock()
    l.balances = make(map[topic.AccountID]uint64, len(snap.Balances))
    for _, e := range snap.Balances { l.balances[e.Account] = e.Balance }
    return nil
}

var _ Billing = (*Ledger)(nil)
