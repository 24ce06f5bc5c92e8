// Package memberlist implements membership on HashiCorp memberlist. Node meta
// travels as a JSON object in the alive message.
package memberlist

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-topics/pkg/internal/logutil"
    base "github.com/amirimatin/go-topics/pkg/membership"
)

var ErrNotStarted = errors.New("memberlist: not started")

type Options struct {
    NodeID string
    // Bind is host:port; port 0 picks a free one.
    Bind string
    // Advertise is the host:port peers dial. Empty derives it from Bind.
    Advertise string
    Meta      map[string]string
    Logger    *log.Logger

    // Zero means memberlist's LAN defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

func (o Options) Validate() error {
    if o.NodeID == "" { return errors.New("memberlist: empty NodeID") }
    if o.Bind == "" { return errors.New("memberlist: empty Bind address") }
    return nil
}

type Gossip struct {
    opts   Options
    log    *log.Logger
    mu     sync.RWMutex
    ml     *memberlist.Memberlist
    meta   *metaDelegate
    evts   chan base.Event
    closed bool
}

func New(opts Options) (*Gossip, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    meta := make(map[string]string, len(opts.Meta))
    for k, v := range opts.Meta { meta[k] = v }
    return &Gossip{
        opts: opts,
        log:  logutil.Component(opts.Logger, "memberlist"),
        meta: &metaDelegate{kv: meta},
        evts: make(chan base.Event, 64),
    }, nil
}

func splitAddr(addr string) (string, int, error) {
    host, ps, err := net.SplitHostPort(addr)
    if err != nil { return "", 0, fmt.Errorf("memberlist: address %q: %w", addr, err) }
    port, err := strconv.Atoi(ps)
    if err != nil || port < 0 || port > 65535 { return "", 0, fmt.Errorf("memberlist: invalid port in %q", addr) }
    return host, port, nil
}

// Start creates the memberlist instance. It stops when ctx is done.
func (g *Gossip) Start(ctx context.Context) error {
    g.mu.Lock(); defer g.mu.Unlock()
    if g.ml != nil { return nil }
    if g.closed { return errors.New("memberlist: stopped") }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = g.opts.NodeID
    host, port, err := splitAddr(g.opts.Bind)
    if err != nil { return err }
    cfg.BindAddr, cfg.BindPort = host, port
    if g.opts.Advertise != "" {
        ahost, aport, err := splitAddr(g.opts.Advertise)
        if err != nil { return err }
        cfg.AdvertiseAddr, cfg.AdvertisePort = ahost, aport
    }
    if g.opts.ProbeInterval > 0 { cfg.ProbeInterval = g.opts.ProbeInterval }
    if g.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = g.opts.ProbeTimeout }
    if g.opts.SuspicionMult > 0 { cfg.SuspicionMult = g.opts.SuspicionMult }
    cfg.LogOutput = g.log.Writer()
    cfg.Events = &eventDelegate{emit: g.emit}
    cfg.Delegate = g.meta

    ml, err := memberlist.Create(cfg)
    if err != nil { return fmt.Errorf("memberlist: create: %w", err) }
    g.ml = ml
    logutil.Infof(g.log, "gossip on %s", net.JoinHostPort(ml.LocalNode().Addr.String(), strconv.Itoa(int(ml.LocalNode().Port))))

    go func() {
        <-ctx.Done()
        _ = g.Stop()
    }()
    return nil
}

func (g *Gossip) list() *memberlist.Memberlist {
    g.mu.RLock(); defer g.mu.RUnlock()
    return g.ml
}

func (g *Gossip) Join(seeds []string) error {
    ml := g.list()
    if ml == nil { return ErrNotStarted }
    if len(seeds) == 0 { return nil }
    n, err := ml.Join(seeds)
    if err != nil { return fmt.Errorf("memberlist: join %v: %w", seeds, err) }
    logutil.Debugf(g.log, "joined %d of %d seeds", n, len(seeds))
    return nil
}

func infoOf(n *memberlist.Node) base.MemberInfo {
    mi := base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: map[string]string{}}
    if len(n.Meta) > 0 { _ = json.Unmarshal(n.Meta, &mi.Meta) }
    return mi
}

func (g *Gossip) Local() base.MemberInfo {
    ml := g.list()
    if ml == nil { return base.MemberInfo{ID: g.opts.NodeID, Meta: g.meta.snapshot()} }
    mi := infoOf(ml.LocalNode())
    // the alive message may lag behind SetMeta
    mi.Meta = g.meta.snapshot()
    return mi
}

func (g *Gossip) Members() []base.MemberInfo {
    ml := g.list()
    if ml == nil { return nil }
    nodes := ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes { out = append(out, infoOf(n)) }
    return out
}

func (g *Gossip) Events() <-chan base.Event { return g.evts }

// SetMeta changes one key and re-broadcasts the local node.
func (g *Gossip) SetMeta(key, value string) error {
    if !g.meta.set(key, value) { return nil }
    ml := g.list()
    if ml == nil { return nil }
    return ml.UpdateNode(time.Second)
}

// Leave broadcasts an intent to leave and waits up to a second for it to
// spread.
func (g *Gossip) Leave() error {
    ml := g.list()
    if ml == nil { return nil }
    if err := ml.Leave(time.Second); err != nil { logutil.Warnf(g.log, "leave: %v", err) }
    return nil
}

func (g *Gossip) Stop() error {
    g.mu.Lock()
    if g.closed { g.mu.Unlock(); return nil }
    g.closed = true
    ml := g.ml
    g.ml = nil
    close(g.evts)
    g.mu.Unlock()
    // delegates call emit while memberlist shuts down
    if ml == nil { return nil }
    return ml.Shutdown()
}

func (g *Gossip) HealthScore() int {
    ml := g.list()
    if ml == nil { return -1 }
    return ml.GetHealthScore()
}

func (g *Gossip) emit(e base.Event) {
    g.mu.RLock(); defer g.mu.RUnlock()
    if g.closed { return }
    select {
    case g.evts <- e:
    default:
        logutil.Warnf(g.log, "dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}

type eventDelegate struct {
    emit func(base.Event)
}

func (d *eventDelegate) notify(t base.EventType, n *memberlist.Node) {
    if n == nil { return }
    d.emit(base.Event{Type: t, Member: infoOf(n), At: time.Now()})
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node)   { d.notify(base.EventJoin, n) }
func (d *eventDelegate) NotifyLeave(n *memberlist.Node)  { d.notify(base.EventLeave, n) }
func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.notify(base.EventUpdate, n) }

// metaDelegate serves the local meta to memberlist.
type metaDelegate struct {
    mu sync.Mutex
    kv map[string]string
}

func (d *metaDelegate) set(k, v string) bool {
    d.mu.Lock(); defer d.mu.Unlock()
    if d.kv[k] == v { return false }
    d.kv[k] = v
    return true
}

func (d *metaDelegate) snapshot() map[string]string {
    d.mu.Lock(); defer d.mu.Unlock()
    out := make(map[string]string, len(d.kv))
    for k, v := range d.kv { out[k] = v }
    return out
}

func (d *metaDelegate) NodeMeta(limit int) []byte {
    b, _ := json.Marshal(d.snapshot())
    if len(b) > limit { return nil }
    return b
}

func (d *metaDelegate) NotifyMsg([]byte)                   {}
func (d *metaDelegate) GetBroadcasts(int, int) [][]byte    { return nil }
func (d *metaDelegate) LocalState(bool) []byte             { return nil }
func (d *metaDelegate) MergeRemoteState([]byte, bool)      {}

var (
    _ base.Membership     = (*Gossip)(nil)
    _ base.MetaUpdater    = (*Gossip)(nil)
    _ base.HealthReporter = (*Gossip)(nil)
)
