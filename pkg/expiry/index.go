// Package expiry keeps topics ordered by expiration so that the state machine
// can find everything due at a round boundary without scanning the store.
//
// The index is advisory: the store is the source of truth and the index is
// rebuilt from it after a restore.
package expiry

import (
    "sync"
    "time"

    "github.com/google/btree"

    "github.com/amirimatin/go-topics/pkg/topic"
)

const degree = 32

type entry struct {
    exp time.Time
    id  topic.ID
}

// Less orders by expiration then topic id, so equal expirations are visited
// in a deterministic order.
func (e entry) Less(than btree.Item) bool {
    o := than.(entry)
    if !e.exp.Equal(o.exp) { return e.exp.Before(o.exp) }
    return e.id.Less(o.id)
}

// Index is safe for concurrent use. The state machine is its only writer.
type Index struct {
    mu   sync.RWMutex
    tree *btree.BTree
    byID map[topic.ID]time.Time
}

func New() *Index {
    return &Index{tree: btree.New(degree), byID: make(map[topic.ID]time.Time)}
}

// Track inserts id or moves it to exp if already present.
func (x *Index) Track(id topic.ID, exp time.Time) {
    x.mu.Lock()
    defer x.mu.Unlock()
    x.trackLocked(id, exp)
}

func (x *Index) trackLocked(id topic.ID, exp time.Time) {
    if old, ok := x.byID[id]; ok { x.tree.Delete(entry{exp: old, id: id}) }
    x.byID[id] = exp
    x.tree.ReplaceOrInsert(entry{exp: exp, id: id})
}

// Renew moves a tracked id to newExp. It reports false when id is unknown.
func (x *Index) Renew(id topic.ID, newExp time.Time) bool {
    x.mu.Lock()
    defer x.mu.Unlock()
    if _, ok := x.byID[id]; !ok { return false }
    x.trackLocked(id, newExp)
    return true
}

// Remove drops id. Removing an unknown id is a no-op.
func (x *Index) Remove(id topic.ID) {
    x.mu.Lock()
    defer x.mu.Unlock()
    old, ok := x.byID[id]
    if !ok { return }
    x.tree.Delete(entry{exp: old, id: id})
    delete(x.byID, id)
}

func (x *Index) Expiration(id topic.ID) (time.Time, bool) {
    x.mu.RLock()
    defer x.mu.RUnlock()
    exp, ok := x.byID[id]
    return exp, ok
}

func (x *Index) Len() int {
    x.mu.RLock()
    defer x.mu.RUnlock()
    return len(x.byID)
}

// Next returns the earliest expiring topic.
func (x *Index) Next() (topic.ID, time.Time, bool) {
    x.mu.RLock()
    defer x.mu.RUnlock()
    it := x.tree.Min()
    if it == nil { return topic.ID{}, time.Time{}, false }
    e := it.(entry)
    return e.id, e.exp, true
}

// Due returns every id whose expiration is at or before asOf, ascending by
// expiration then id.
func (x *Index) Due(asOf time.Time) []topic.ID {
    x.mu.RLock()
    defer x.mu.RUnlock()
    var out []topic.ID
    x.tree.Ascend(func(it btree.Item) bool {
        e := it.(entry)
        if e.exp.After(asOf) { return false }
        out = append(out, e.id)
        return true
    })
    return out
}

// Rebuild replaces the index content with the live topics in states.
// Deleted topics are skipped.
func (x *Index) Rebuild(states []topic.State) {
    x.mu.Lock()
    defer x.mu.Unlock()
    x.tree.Clear(false)
    x.byID = make(map[topic.ID]time.Time, len(states))
    for _, st := range states {
        if st.Deleted { continue }
        x.trackLocked(st.ID, st.Expiration)
    }
}
