package memory

import (
    "errors"
    "testing"

    "github.com/amirimatin/go-topics/pkg/store"
    "github.com/amirimatin/go-topics/pkg/store/storetest"
    "github.com/amirimatin/go-topics/pkg/topic"
)

func TestMemoryStore_Conformance(t *testing.T) { storetest.Run(t, New()) }

func TestMemoryStore_ClosedIsStorageFailure(t *testing.T) {
    s := New()
    _ = s.Close()
    err := s.Update(func(store.Txn) error { return nil })
    if !errors.Is(err, topic.ErrStorageFailure) { t.Fatalf("err = %v", err) }
}
