// Package bolt is the durable Store backed by a single BoltDB file with two
// buckets: topics and meta.
package bolt

import (
    "bytes"
    "fmt"
    "os"
    "path/filepath"
    "time"

    bolt "github.com/boltdb/bolt"

    "github.com/amirimatin/go-topics/pkg/store"
    "github.com/amirimatin/go-topics/pkg/topic"
)

var (
    bucketTopics = []byte("topics")
    bucketMeta   = []byte("meta")
)

type Store struct {
    db *bolt.DB
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { return nil, store.Failure("mkdir", err) }
    db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
    if err != nil { return nil, store.Failure("open "+path, err) }
    s := &Store{db: db}
    if err := db.Update(createBuckets); err != nil {
        _ = db.Close()
        return nil, store.Failure("init buckets", err)
    }
    return s, nil
}

func createBuckets(tx *bolt.Tx) error {
    if _, err := tx.CreateBucketIfNotExists(bucketTopics); err != nil { return err }
    _, err := tx.CreateBucketIfNotExists(bucketMeta)
    return err
}

type txn struct {
    tx *bolt.Tx
}

func (t txn) Get(id topic.ID) (topic.State, bool, error) {
    v := t.tx.Bucket(bucketTopics).Get(id.Bytes())
    if v == nil { return topic.State{}, false, nil }
    st, err := store.Decode(v)
    return st, err == nil, err
}

func (t txn) Put(st topic.State) error {
    if !t.tx.Writable() { return store.ErrReadOnly }
    b, err := store.Encode(st)
    if err != nil { return err }
    return store.Failure("put "+st.ID.String(), t.tx.Bucket(bucketTopics).Put(st.ID.Bytes(), b))
}

func (t txn) Delete(id topic.ID) error {
    if !t.tx.Writable() { return store.ErrReadOnly }
    return store.Failure("delete "+id.String(), t.tx.Bucket(bucketTopics).Delete(id.Bytes()))
}

func (t txn) GetMeta(key string) ([]byte, bool, error) {
    v := t.tx.Bucket(bucketMeta).Get([]byte(key))
    if v == nil { return nil, false, nil }
    // bolt values are only valid for the life of the transaction
    return append([]byte(nil), v...), true, nil
}

func (t txn) PutMeta(key string, val []byte) error {
    if !t.tx.Writable() { return store.ErrReadOnly }
    return store.Failure("put meta "+key, t.tx.Bucket(bucketMeta).Put([]byte(key), val))
}

func (t txn) DeleteMeta(key string) error {
    if !t.tx.Writable() { return store.ErrReadOnly }
    return store.Failure("delete meta "+key, t.tx.Bucket(bucketMeta).Delete([]byte(key)))
}

func (t txn) ScanMeta(prefix string, fn func(string, []byte) error) error {
    p := []byte(prefix)
    c := t.tx.Bucket(bucketMeta).Cursor()
    for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
        if err := fn(string(k), append([]byte(nil), v...)); err != nil { return err }
    }
    return nil
}

func (s *Store) View(fn func(store.Txn) error) error {
    var fnErr error
    err := s.db.View(func(tx *bolt.Tx) error {
        fnErr = fn(txn{tx: tx})
        return fnErr
    })
    if fnErr != nil { return fnErr }
    return store.Failure("view", err)
}

func (s *Store) Update(fn func(store.Txn) error) error {
    var fnErr error
    err := s.db.Update(func(tx *bolt.Tx) error {
        fnErr = fn(txn{tx: tx})
        return fnErr
    })
    if fnErr != nil { return fnErr }
    return store.Failure("commit", err)
}

func (s *Store) ForEach(fn func(topic.State) error) error {
    var fnErr error
    err := s.db.View(func(tx *bolt.Tx) error {
        // keys are big-endian ids, so byte order is id order
        return tx.Bucket(bucketTopics).ForEach(func(_, v []byte) error {
            st, err := store.Decode(v)
            if err != nil { return err }
            fnErr = fn(st)
            return fnErr
        })
    })
    if fnErr != nil { return fnErr }
    return store.Failure("scan topics", err)
}

func (s *Store) ForEachMeta(prefix string, fn func(string, []byte) error) error {
    return s.View(func(tx store.Txn) error { return tx.ScanMeta(prefix, fn) })
}

func (s *Store) Reset() error {
    err := s.db.Update(func(tx *bolt.Tx) error {
        for _, name := range [][]byte{bucketTopics, bucketMeta} {
            if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound { return err }
        }
        return createBuckets(tx)
    })
    return store.Failure("reset", err)
}

func (s *Store) Close() error {
    if err := s.db.Close(); err != nil { return fmt.Errorf("bolt: close: %w", err) }
    return nil
}

var _ store.Store = (*Store)(nil)
