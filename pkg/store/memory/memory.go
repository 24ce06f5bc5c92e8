// Package memory is an in-process Store. Update stages writes in an overlay
// and publishes them under the store lock only when fn succeeds.
package memory

import (
    "errors"
    "sort"
    "strings"
    "sync"

    "github.com/amirimatin/go-topics/pkg/store"
    "github.com/amirimatin/go-topics/pkg/topic"
)

var errClosed = errors.New("memory: store closed")

type Store struct {
    mu     sync.RWMutex
    topics map[topic.ID][]byte
    meta   map[string][]byte
    closed bool
}

func New() *Store {
    return &Store{topics: make(map[topic.ID][]byte), meta: make(map[string][]byte)}
}

type write struct {
    val []byte
    del bool
}

type txn struct {
    s        *Store
    readOnly bool
    topics   map[topic.ID]write
    meta     map[string]write
}

func (t *txn) Get(id topic.ID) (topic.State, bool, error) {
    if w, ok := t.topics[id]; ok {
        if w.del { return topic.State{}, false, nil }
        st, err := store.Decode(w.val)
        return st, err == nil, err
    }
    b, ok := t.s.topics[id]
    if !ok { return topic.State{}, false, nil }
    st, err := store.Decode(b)
    return st, err == nil, err
}

func (t *txn) Put(st topic.State) error {
    if t.readOnly { return store.ErrReadOnly }
    b, err := store.Encode(st)
    if err != nil { return err }
    t.topics[st.ID] = write{val: b}
    return nil
}

func (t *txn) Delete(id topic.ID) error {
    if t.readOnly { return store.ErrReadOnly }
    t.topics[id] = write{del: true}
    return nil
}

func (t *txn) GetMeta(key string) ([]byte, bool, error) {
    if w, ok := t.meta[key]; ok {
        if w.del { return nil, false, nil }
        return append([]byte(nil), w.val...), true, nil
    }
    b, ok := t.s.meta[key]
    if !ok { return nil, false, nil }
    return append([]byte(nil), b...), true, nil
}

func (t *txn) PutMeta(key string, val []byte) error {
    if t.readOnly { return store.ErrReadOnly }
    t.meta[key] = write{val: append([]byte(nil), val...)}
    return nil
}

func (t *txn) DeleteMeta(key string) error {
    if t.readOnly { return store.ErrReadOnly }
    t.meta[key] = write{del: true}
    return nil
}

func (t *txn) ScanMeta(prefix string, fn func(string, []byte) error) error {
    merged := make(map[string][]byte)
    for k, v := range t.s.meta {
        if strings.HasPrefix(k, prefix) { merged[k] = v }
    }
    for k, w := range t.meta {
        if !strings.HasPrefix(k, prefix) { continue }
        if w.del { delete(merged, k) } else { merged[k] = w.val }
    }
    return visitSorted(merged, fn)
}

func visitSorted(m map[string][]byte, fn func(string, []byte) error) error {
    keys := make([]string, 0, len(m))
    for k := range m { keys = append(keys, k) }
    sort.Strings(keys)
    for _, k := range keys {
        if err := fn(k, append([]byte(nil), m[k]...)); err != nil { return err }
    }
    return nil
}

func (s *Store) View(fn func(store.Txn) error) error {
    s.mu.RLock(); defer s.mu.RUnlock()
    if s.closed { return store.Failure("view", errClosed) }
    return fn(&txn{s: s, readOnly: true})
}

func (s *Store) Update(fn func(store.Txn) error) error {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.closed { return store.Failure("update", errClosed) }
    t := &txn{s: s, topics: make(map[topic.ID]write), meta: make(map[string]write)}
    if err := fn(t); err != nil { return err }
    for id, w := range t.topics {
        if w.del { delete(s.topics, id) } else { s.topics[id] = w.val }
    }
    for k, w := range t.meta {
        if w.del { delete(s.meta, k) } else { s.meta[k] = w.val }
    }
    return nil
}

func (s *Store) ForEach(fn func(topic.State) error) error {
    s.mu.RLock(); defer s.mu.RUnlock()
    ids := make([]topic.ID, 0, len(s.topics))
    for id := range s.topics { ids = append(ids, id) }
    sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
    for _, id := range ids {
        st, err := store.Decode(s.topics[id])
        if err != nil { return err }
        if err := fn(st); err != nil { return err }
    }
    return nil
}

func (s *Store) ForEachMeta(prefix string, fn func(string, []byte) error) error {
    s.mu.RLock(); defer s.mu.RUnlock()
    return (&txn{s: s, readOnly: true}).ScanMeta(prefix, fn)
}

func (s *Store) Reset() error {
    s.mu.Lock(); defer s.mu.Unlock()
    s.topics = make(map[topic.ID][]byte)
    s.meta = make(map[string][]byte)
    return nil
}

func (s *Store) Close() error {
    s.mu.Lock(); defer s.mu.Unlock()
    s.closed = true
    return nil
}

var _ store.Store = (*Store)(nil)
