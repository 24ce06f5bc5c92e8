package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"

    "github.com/amirimatin/go-topics/pkg/observability/metrics"
)

// connManager caches client connections per address and closes the ones
// that stayed unused for longer than ttl.
type connManager struct {
    mu      sync.Mutex
    conns   map[string]*managedConn
    ttl     time.Duration
    dial    func(ctx context.Context, target string) (*grpc.ClientConn, error)
    closing chan struct{}
    once    sync.Once
}

type managedConn struct {
    cc       *grpc.ClientConn
    lastUsed time.Time
    ref      int
}

func newConnManager(ttl time.Duration, dial func(ctx context.Context, target string) (*grpc.ClientConn, error)) *connManager {
    if ttl <= 0 { ttl = 30 * time.Second }
    m := &connManager{ttl: ttl, dial: dial, conns: make(map[string]*managedConn), closing: make(chan struct{})}
    go m.janitor()
    return m
}

// get returns a connection for target and a release func.
func (m *connManager) get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    m.mu.Lock()
    if mc, ok := m.conns[target]; ok {
        mc.ref++
        mc.lastUsed = time.Now()
        m.mu.Unlock()
        return mc.cc, func() { m.release(target) }, nil
    }
    m.mu.Unlock()

    cc, err := m.dial(ctx, target)
    if err != nil { return nil, func() {}, err }

    m.mu.Lock(); defer m.mu.Unlock()
    if mc, ok := m.conns[target]; ok {
        // lost the race to another dialer
        _ = cc.Close()
        mc.ref++
        mc.lastUsed = time.Now()
        return mc.cc, func() { m.release(target) }, nil
    }
    m.conns[target] = &managedConn{cc: cc, lastUsed: time.Now(), ref: 1}
    metrics.GRPCConnDials.Inc()
    return cc, func() { m.release(target) }, nil
}

func (m *connManager) release(target string) {
    m.mu.Lock(); defer m.mu.Unlock()
    if mc, ok := m.conns[target]; ok {
        if mc.ref > 0 { mc.ref-- }
        mc.lastUsed = time.Now()
    }
}

// drop closes and forgets target, e.g. after a transport failure.
func (m *connManager) drop(target string) {
    m.mu.Lock(); defer m.mu.Unlock()
    if mc, ok := m.conns[target]; ok && mc.ref == 0 {
        _ = mc.cc.Close()
        delete(m.conns, target)
    }
}

func (m *connManager) close() {
    m.once.Do(func() {
        close(m.closing)
        m.mu.Lock(); defer m.mu.Unlock()
        for k, mc := range m.conns {
            _ = mc.cc.Close()
            delete(m.conns, k)
        }
    })
}

func (m *connManager) janitor() {
    ticker := time.NewTicker(m.ttl / 2)
    defer ticker.Stop()
    for {
        select {
        case <-m.closing:
            return
        case <-ticker.C:
            cutoff := time.Now().Add(-m.ttl)
            m.mu.Lock()
            for addr, mc := range m.conns {
                if mc.ref == 0 && mc.lastUsed.Before(cutoff) {
                    _ = mc.cc.Close()
                    metrics.GRPCConnEvictions.Inc()
                    delete(m.conns, addr)
                }
            }
            m.mu.Unlock()
        }
    }
}
