package node

import (
    "sync"

    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/observability/metrics"
    "github.com/amirimatin/go-topics/pkg/topic"
)

const subscriberBuffer = 256

// hub fans committed receipts out to stream subscribers. It runs on the
// apply path, so a full subscriber loses receipts instead of blocking.
type hub struct {
    mu     sync.Mutex
    subs   map[*subscriber]struct{}
    closed bool
}

type subscriber struct {
    id topic.ID
    ch chan machine.Receipt
}

func (h *hub) OnReceipt(r machine.Receipt, _ machine.Transaction) {
    h.mu.Lock(); defer h.mu.Unlock()
    for s := range h.subs {
        if !s.id.IsZero() && s.id != r.TopicID { continue }
        select {
        case s.ch <- r:
        default:
        }
    }
}

// subscribe registers a feed for id, or for everything when id is zero.
func (h *hub) subscribe(id topic.ID) (<-chan machine.Receipt, func()) {
    s := &subscriber{id: id, ch: make(chan machine.Receipt, subscriberBuffer)}
    h.mu.Lock()
    if h.closed {
        h.mu.Unlock()
        close(s.ch)
        return s.ch, func() {}
    }
    if h.subs == nil { h.subs = make(map[*subscriber]struct{}) }
    h.subs[s] = struct{}{}
    h.mu.Unlock()
    metrics.StreamSubscribers.Inc()
    var once sync.Once
    return s.ch, func() { once.Do(func() { h.remove(s) }) }
}

func (h *hub) remove(s *subscriber) {
    h.mu.Lock(); defer h.mu.Unlock()
    if _, ok := h.subs[s]; !ok { return }
    delete(h.subs, s)
    close(s.ch)
    metrics.StreamSubscribers.Dec()
}

func (h *hub) close() {
    h.mu.Lock(); defer h.mu.Unlock()
    h.closed = true
    for s := range h.subs {
        close(s.ch)
        metrics.StreamSubscribers.Dec()
    }
    h.subs = nil
}

var _ machine.Observer = (*hub)(nil)
