// Package bootstrap assembles a node from flat configuration: store,
// machine, Raft, gossip, discovery, management servers and archive.
package bootstrap

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "io"
    "log"
    "os"
    "path/filepath"
    "time"

    "github.com/amirimatin/go-topics/pkg/archive"
    "github.com/amirimatin/go-topics/pkg/config"
    raftcons "github.com/amirimatin/go-topics/pkg/consensus/raft"
    "github.com/amirimatin/go-topics/pkg/discovery"
    dDNS "github.com/amirimatin/go-topics/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-topics/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-topics/pkg/discovery/static"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/membership"
    ml "github.com/amirimatin/go-topics/pkg/membership/memberlist"
    "github.com/amirimatin/go-topics/pkg/node"
    "github.com/amirimatin/go-topics/pkg/observability/tracing"
    tlsx "github.com/amirimatin/go-topics/pkg/security/tlsconfig"
    "github.com/amirimatin/go-topics/pkg/store"
    storebolt "github.com/amirimatin/go-topics/pkg/store/bolt"
    storeleveldb "github.com/amirimatin/go-topics/pkg/store/leveldb"
    "github.com/amirimatin/go-topics/pkg/store/memory"
    "github.com/amirimatin/go-topics/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-topics/pkg/transport/grpc"
    "github.com/amirimatin/go-topics/pkg/transport/httpjson"
)

// Store backends.
const (
    StoreMemory  = "memory"
    StoreBolt    = "bolt"
    StoreLevelDB = "leveldb"
)

// Config is what `topicctl run` collects from flags.
type Config struct {
    NodeID string
    // RaftAddr is the raft TCP bind address; empty runs an in-memory
    // transport that can only form a single-node cluster.
    RaftAddr string
    // MemBind enables gossip; MemAdv optionally overrides the address
    // peers dial.
    MemBind string
    MemAdv  string

    // MgmtAddr serves the management API over MgmtProto ("http" or
    // "grpc"). GRPCAddr adds a gRPC listener next to an HTTP one.
    MgmtAddr  string
    MgmtProto string
    GRPCAddr  string

    DiscoveryKind string // static (default), dns or file
    SeedsCSV      string
    DNSNamesCSV   string
    DNSPort       int
    DiscRefresh   time.Duration
    FilePath      string
    FileEnv       string

    // DataDir holds raft state and, for durable backends, the topic store.
    // Empty keeps everything in memory.
    DataDir   string
    Store     string
    Bootstrap bool

    // NetworkConfig is a config.Load file with limits and billing seed.
    NetworkConfig string
    // ArchivePath enables the sqlite archive.
    ArchivePath   string
    RoundInterval time.Duration

    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool

    Tracing bool
    Logger  *log.Logger
}

func (c Config) Validate() error {
    if c.NodeID == "" { return errors.New("bootstrap: empty NodeID") }
    switch c.Store {
    case "", StoreMemory:
    case StoreBolt, StoreLevelDB:
        if c.DataDir == "" { return fmt.Errorf("bootstrap: %s store needs a data dir", c.Store) }
    default:
        return fmt.Errorf("bootstrap: unknown store %q", c.Store)
    }
    switch c.MgmtProto {
    case "", "http", "grpc":
    default:
        return fmt.Errorf("bootstrap: unknown management protocol %q", c.MgmtProto)
    }
    return nil
}

// Instance is a built node plus the resources it owns.
type Instance struct {
    *node.Node
    Machine *machine.Machine
    Raft    *raftcons.Node
    Archive *archive.Archive
    // Servers are the management listeners; the first is advertised.
    Servers []transport.RPCServer
    closers []io.Closer
    tracing func(context.Context) error
}

// Close stops the node, then releases the store, archive and tracer.
func (i *Instance) Close() error {
    errs := []error{i.Node.Stop(context.Background())}
    for j := len(i.closers) - 1; j >= 0; j-- { errs = append(errs, i.closers[j].Close()) }
    if i.tracing != nil { errs = append(errs, i.tracing(context.Background())) }
    return errors.Join(errs...)
}

func openStore(cfg Config) (store.Store, error) {
    switch cfg.Store {
    case StoreBolt:
        return storebolt.Open(filepath.Join(cfg.DataDir, "topics.db"))
    case StoreLevelDB:
        return storeleveldb.Open(filepath.Join(cfg.DataDir, "topics.ldb"))
    default:
        return memory.New(), nil
    }
}

func buildDiscovery(cfg Config) discovery.Discovery {
    switch cfg.DiscoveryKind {
    case "dns":
        return dDNS.New(dDNS.Options{Names: discovery.Split(cfg.DNSNamesCSV), Port: cfg.DNSPort, Refresh: cfg.DiscRefresh, Logger: cfg.Logger})
    case "file":
        return dFile.New(dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv, Refresh: cfg.DiscRefresh})
    default:
        return dStatic.Parse(cfg.SeedsCSV)
    }
}

// TLS returns the server and client configs; both are nil when disabled.
func (c Config) TLS() (srv, cli *tls.Config, err error) {
    o := tlsx.Options{Enable: c.TLSEnable, CAFile: c.TLSCA, CertFile: c.TLSCert, KeyFile: c.TLSKey, InsecureSkipVerify: c.TLSSkipVerify, ServerName: c.TLSServerName}
    if srv, err = o.ServerHotReload(); err != nil { return nil, nil, err }
    if cli, err = o.ClientHotReload(); err != nil { return nil, nil, err }
    return srv, cli, nil
}

// Client returns a management client for proto, as the CLI uses it.
func Client(proto string, timeout time.Duration, tlsCfg *tls.Config) transport.RPCClient {
    if proto == "grpc" {
        c := mgmtgrpc.NewClient(timeout)
        if tlsCfg != nil { c.UseTLS(tlsCfg) }
        return c
    }
    c := httpjson.NewClient(timeout)
    if tlsCfg != nil { c.UseTLS(tlsCfg) }
    return c
}

// Build wires a node from cfg without starting it.
func Build(cfg Config) (inst *Instance, err error) {
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    if err := cfg.Validate(); err != nil { return nil, err }
    inst = &Instance{}
    defer func() {
        if err == nil { return }
        for j := len(inst.closers) - 1; j >= 0; j-- { _ = inst.closers[j].Close() }
        if inst.tracing != nil { _ = inst.tracing(context.Background()) }
    }()

    if inst.tracing, err = tracing.Setup(cfg.Tracing); err != nil { return nil, err }
    netCfg, err := config.Load(cfg.NetworkConfig)
    if err != nil { return nil, err }
    if cfg.DataDir != "" {
        if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil { return nil, err }
    }

    st, err := openStore(cfg)
    if err != nil { return nil, err }
    inst.closers = append(inst.closers, st)
    m, err := machine.New(machine.Options{Store: st, Billing: netCfg.Billing.Ledger(), Limits: netCfg.Limits, Logger: cfg.Logger})
    if err != nil { return nil, err }
    inst.Machine = m

    raftDir := ""
    if cfg.DataDir != "" { raftDir = filepath.Join(cfg.DataDir, "raft") }
    rn, err := raftcons.New(raftcons.Options{NodeID: cfg.NodeID, Logger: cfg.Logger, Machine: m, BindAddr: cfg.RaftAddr, DataDir: raftDir, Bootstrap: cfg.Bootstrap})
    if err != nil { return nil, err }
    inst.Raft = rn

    if cfg.ArchivePath != "" {
        a, err := archive.Open(cfg.ArchivePath)
        if err != nil { return nil, err }
        inst.Archive = a
        inst.closers = append(inst.closers, a)
    }

    srvTLS, cliTLS, err := cfg.TLS()
    if err != nil { return nil, err }
    var servers []transport.RPCServer
    var healthSetters []*httpjson.Server
    switch cfg.MgmtProto {
    case "grpc":
        s := mgmtgrpc.NewServer(cfg.MgmtAddr)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        servers = append(servers, s)
    default:
        s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        servers = append(servers, s)
        healthSetters = append(healthSetters, s)
        if cfg.GRPCAddr != "" {
            g := mgmtgrpc.NewServer(cfg.GRPCAddr)
            if srvTLS != nil { g.UseTLS(srvTLS) }
            servers = append(servers, g)
        }
    }

    var mem membership.Membership
    if cfg.MemBind != "" {
        g, err := ml.New(ml.Options{NodeID: cfg.NodeID, Bind: cfg.MemBind, Advertise: cfg.MemAdv, Logger: cfg.Logger})
        if err != nil { return nil, err }
        mem = g
    }

    n, err := node.New(node.Options{
        NodeID:        cfg.NodeID,
        Logger:        cfg.Logger,
        Machine:       m,
        Consensus:     rn,
        Membership:    mem,
        Discovery:     buildDiscovery(cfg),
        Servers:       servers,
        RPCClient:     Client(cfg.MgmtProto, 3*time.Second, cliTLS),
        Archive:       inst.Archive,
        RoundInterval: cfg.RoundInterval,
    })
    if err != nil { return nil, err }
    for _, s := range healthSetters { s.Healthy = n.Health }
    inst.Node, inst.Servers = n, servers
    return inst, nil
}

// Run builds and starts a node. The caller closes it.
func Run(ctx context.Context, cfg Config) (*Instance, error) {
    inst, err := Build(cfg)
    if err != nil { return nil, err }
    if err := inst.Start(ctx); err != nil {
        _ = inst.Close()
        return nil, err
    }
    return inst, nil
}
