// Package storetest is a conformance suite shared by the Store backends.
package storetest

import (
    "bytes"
    "errors"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/store"
    "github.com/amirimatin/go-topics/pkg/topic"
)

func state(num uint64) topic.State {
    memo := "memo"
    return topic.State{
        ID:               topic.ID{Num: num},
        Memo:             &memo,
        AutoRenewSeconds: 7000000,
        Expiration:       time.Unix(1700000000+int64(num), 0).UTC(),
        CreatedAt:        time.Unix(1700000000, 0).UTC(),
    }
}

var errAbort = errors.New("abort")

// Run exercises s, which must be empty.
func Run(t *testing.T, s store.Store) {
    t.Helper()

    // commit
    if err := s.Update(func(tx store.Txn) error {
        for _, n := range []uint64{1003, 1001, 1002} {
            if err := tx.Put(state(n)); err != nil { return err }
        }
        if err := tx.PutMeta(store.MetaNextNum, []byte{1}); err != nil { return err }
        // reads see earlier writes of the same transaction
        if _, ok, err := tx.Get(topic.ID{Num: 1003}); err != nil || !ok { t.Fatalf("read-your-writes: %v %v", ok, err) }
        return nil
    }); err != nil {
        t.Fatalf("update: %v", err)
    }

    // rollback leaves nothing behind
    if err := s.Update(func(tx store.Txn) error {
        if err := tx.Put(state(2000)); err != nil { return err }
        if err := tx.Delete(topic.ID{Num: 1001}); err != nil { return err }
        if err := tx.PutMeta(store.MetaNextNum, []byte{9}); err != nil { return err }
        return errAbort
    }); !errors.Is(err, errAbort) {
        t.Fatalf("update must return fn error, got %v", err)
    }

    if err := s.View(func(tx store.Txn) error {
        got, ok, err := tx.Get(topic.ID{Num: 1001})
        if err != nil || !ok { t.Fatalf("get 1001: %v %v", ok, err) }
        if got.Memo == nil || *got.Memo != "memo" || !got.Expiration.Equal(state(1001).Expiration) {
            t.Fatalf("round trip mismatch: %+v", got)
        }
        if _, ok, _ := tx.Get(topic.ID{Num: 2000}); ok { t.Fatalf("rolled back put is visible") }
        v, ok, err := tx.GetMeta(store.MetaNextNum)
        if err != nil || !ok || !bytes.Equal(v, []byte{1}) { t.Fatalf("meta = %v %v %v", v, ok, err) }
        if err := tx.Put(state(5)); !errors.Is(err, store.ErrReadOnly) { t.Fatalf("write in view: %v", err) }
        return nil
    }); err != nil {
        t.Fatalf("view: %v", err)
    }

    // ascending id order
    all, err := store.All(s)
    if err != nil { t.Fatalf("all: %v", err) }
    if len(all) != 3 { t.Fatalf("len = %d", len(all)) }
    for i, want := range []uint64{1001, 1002, 1003} {
        if all[i].ID.Num != want { t.Fatalf("order[%d] = %s", i, all[i].ID) }
    }

    // meta prefix scan
    if err := s.Update(func(tx store.Txn) error {
        for _, k := range []string{"dedup/b", "dedup/a", "other"} {
            if err := tx.PutMeta(k, []byte(k)); err != nil { return err }
        }
        if err := tx.DeleteMeta("dedup/b"); err != nil { return err }
        // scans inside a transaction see its own writes
        var inTxn []string
        if err := tx.ScanMeta(store.MetaDedupPrefix, func(k string, _ []byte) error { inTxn = append(inTxn, k); return nil }); err != nil { return err }
        if len(inTxn) != 1 || inTxn[0] != "dedup/a" { t.Fatalf("scan in txn = %v", inTxn) }
        return nil
    }); err != nil {
        t.Fatalf("meta update: %v", err)
    }
    var keys []string
    if err := s.ForEachMeta(store.MetaDedupPrefix, func(k string, v []byte) error {
        if string(v) != k { t.Fatalf("meta value for %s = %q", k, v) }
        keys = append(keys, k)
        return nil
    }); err != nil {
        t.Fatalf("for each meta: %v", err)
    }
    if len(keys) != 1 || keys[0] != "dedup/a" { t.Fatalf("dedup keys = %v", keys) }

    // delete then reset
    if err := s.Update(func(tx store.Txn) error { return tx.Delete(topic.ID{Num: 1002}) }); err != nil {
        t.Fatalf("delete: %v", err)
    }
    if all, _ := store.All(s); len(all) != 2 { t.Fatalf("len after delete = %d", len(all)) }
    if err := s.Reset(); err != nil { t.Fatalf("reset: %v", err) }
    if all, _ := store.All(s); len(all) != 0 { t.Fatalf("len after reset = %d", len(all)) }
    if err := s.View(func(tx store.Txn) error {
        if _, ok, _ := tx.GetMeta(store.MetaNextNum); ok { t.Fatalf("meta survived reset") }
        return nil
    }); err != nil {
        t.Fatalf("view after reset: %v", err)
    }
}
