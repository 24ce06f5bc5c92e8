// Package leveldb is a Store on goleveldb. Topic records live under the "t/"
// prefix and meta entries under "m/". Update buffers writes in a
// leveldb.Batch and an overlay map, then writes the batch synchronously.
package leveldb

import (
    "fmt"
    "sort"
    "strings"

    "github.com/syndtr/goleveldb/leveldb"
    "github.com/syndtr/goleveldb/leveldb/iterator"
    "github.com/syndtr/goleveldb/leveldb/opt"
    "github.com/syndtr/goleveldb/leveldb/util"

    "github.com/amirimatin/go-topics/pkg/store"
    "github.com/amirimatin/go-topics/pkg/topic"
)

var (
    prefixTopic = []byte("t/")
    prefixMeta  = []byte("m/")
)

func topicKey(id topic.ID) []byte { return id.AppendBinary(append([]byte(nil), prefixTopic...)) }

func metaKey(k string) []byte { return append(append([]byte(nil), prefixMeta...), k...) }

type Store struct {
    db *leveldb.DB
}

// Open creates or opens the database directory at dir.
func Open(dir string) (*Store, error) {
    db, err := leveldb.OpenFile(dir, nil)
    if err != nil { return nil, store.Failure("open "+dir, err) }
    return &Store{db: db}, nil
}

// reader is satisfied by both *leveldb.DB and *leveldb.Snapshot.
type reader interface {
    Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
    NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type pending struct {
    val []byte
    del bool
}

type txn struct {
    r        reader
    readOnly bool
    batch    *leveldb.Batch
    staged   map[string]pending
}

func (t *txn) get(key []byte) ([]byte, bool, error) {
    if p, ok := t.staged[string(key)]; ok {
        if p.del { return nil, false, nil }
        return p.val, true, nil
    }
    v, err := t.r.Get(key, nil)
    if err == leveldb.ErrNotFound { return nil, false, nil }
    if err != nil { return nil, false, store.Failure("get", err) }
    return v, true, nil
}

func (t *txn) put(key, val []byte) error {
    if t.readOnly { return store.ErrReadOnly }
    t.batch.Put(key, val)
    t.staged[string(key)] = pending{val: val}
    return nil
}

func (t *txn) del(key []byte) error {
    if t.readOnly { return store.ErrReadOnly }
    t.batch.Delete(key)
    t.staged[string(key)] = pending{del: true}
    return nil
}

func (t *txn) Get(id topic.ID) (topic.State, bool, error) {
    v, ok, err := t.get(topicKey(id))
    if err != nil || !ok { return topic.State{}, false, err }
    st, err := store.Decode(v)
    return st, err == nil, err
}

func (t *txn) Put(st topic.State) error {
    b, err := store.Encode(st)
    if err != nil { return err }
    return t.put(topicKey(st.ID), b)
}

func (t *txn) Delete(id topic.ID) error { return t.del(topicKey(id)) }

func (t *txn) GetMeta(key string) ([]byte, bool, error) {
    v, ok, err := t.get(metaKey(key))
    if !ok { return nil, ok, err }
    return append([]byte(nil), v...), true, nil
}

func (t *txn) PutMeta(key string, val []byte) error {
    return t.put(metaKey(key), append([]byte(nil), val...))
}

func (t *txn) DeleteMeta(key string) error { return t.del(metaKey(key)) }

func (t *txn) ScanMeta(prefix string, fn func(string, []byte) error) error {
    merged := make(map[string][]byte)
    it := t.r.NewIterator(util.BytesPrefix(metaKey(prefix)), nil)
    for it.Next() {
        merged[string(it.Key()[len(prefixMeta):])] = append([]byte(nil), it.Value()...)
    }
    err := it.Error()
    it.Release()
    if err != nil { return store.Failure("scan meta", err) }
    full := string(metaKey(prefix))
    for k, p := range t.staged {
        if !strings.HasPrefix(k, full) { continue }
        if p.del { delete(merged, k[len(prefixMeta):]) } else { merged[k[len(prefixMeta):]] = p.val }
    }
    keys := make([]string, 0, len(merged))
    for k := range merged { keys = append(keys, k) }
    sort.Strings(keys)
    for _, k := range keys {
        if err := fn(k, append([]byte(nil), merged[k]...)); err != nil { return err }
    }
    return nil
}

func (s *Store) View(fn func(store.Txn) error) error {
    snap, err := s.db.GetSnapshot()
    if err != nil { return store.Failure("snapshot", err) }
    defer snap.Release()
    return fn(&txn{r: snap, readOnly: true})
}

// Update is not safe for concurrent writers; the state machine is the only one.
func (s *Store) Update(fn func(store.Txn) error) error {
    t := &txn{r: s.db, batch: new(leveldb.Batch), staged: make(map[string]pending)}
    if err := fn(t); err != nil { return err }
    if t.batch.Len() == 0 { return nil }
    return store.Failure("commit", s.db.Write(t.batch, &opt.WriteOptions{Sync: true}))
}

func (s *Store) ForEach(fn func(topic.State) error) error {
    it := s.db.NewIterator(util.BytesPrefix(prefixTopic), nil)
    defer it.Release()
    for it.Next() {
        st, err := store.Decode(it.Value())
        if err != nil { return err }
        if err := fn(st); err != nil { return err }
    }
    return store.Failure("scan topics", it.Error())
}

func (s *Store) ForEachMeta(prefix string, fn func(string, []byte) error) error {
    it := s.db.NewIterator(util.BytesPrefix(metaKey(prefix)), nil)
    defer it.Release()
    for it.Next() {
        k := string(it.Key()[len(prefixMeta):])
        if err := fn(k, append([]byte(nil), it.Value()...)); err != nil { return err }
    }
    return store.Failure("scan meta", it.Error())
}

func (s *Store) Reset() error {
    batch := new(leveldb.Batch)
    it := s.db.NewIterator(nil, nil)
    for it.Next() { batch.Delete(append([]byte(nil), it.Key()...)) }
    err := it.Error()
    it.Release()
    if err != nil { return store.Failure("reset scan", err) }
    return store.Failure("reset", s.db.Write(batch, &opt.WriteOptions{Sync: true}))
}

func (s *Store) Close() error {
    if err := s.db.Close(); err != nil { return fmt.Errorf("leveldb: close: %w", err) }
    return nil
}

var _ store.Store = (*Store)(nil)
