package cli

import (
    "fmt"
    "log"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-topics/pkg/bootstrap"
    "github.com/amirimatin/go-topics/pkg/discovery/dns"
    "github.com/amirimatin/go-topics/pkg/node"
)

// NewRunCmd returns the "run" command that starts a node and blocks until
// SIGINT or SIGTERM.
func NewRunCmd() *cobra.Command {
    var cfg bootstrap.Config
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a topic node",
        RunE: func(cmd *cobra.Command, args []string) error {
            if cfg.NodeID == "" { return fmt.Errorf("missing --id") }
            cfg.Logger = log.Default()
            ctx, cancel := signalContext()
            defer cancel()

            inst, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer inst.Close()

            fmt.Fprintf(cmd.OutOrStdout(), "node %s running, management on %s. Press Ctrl+C to exit.\n", cfg.NodeID, inst.Servers[0].Addr())
            <-ctx.Done()
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfg.NodeID, "id", "", "node id (required)")
    f.StringVar(&cfg.RaftAddr, "raft-addr", ":9520", "raft bind addr (tcp); empty for in-memory single node")
    f.StringVar(&cfg.MemBind, "mem-bind", "", "gossip bind addr (host:port); empty disables gossip")
    f.StringVar(&cfg.MemAdv, "mem-adv", "", "gossip advertise addr (host:port, optional)")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", ":17946", "management address (tcp)")
    f.StringVar(&cfg.MgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    f.StringVar(&cfg.GRPCAddr, "grpc-addr", "", "extra gRPC management listener next to http (optional)")
    f.StringVar(&cfg.DiscoveryKind, "discovery", "static", "discovery backend: static|dns|file")
    f.StringVar(&cfg.SeedsCSV, "join", "", "comma-separated seed gossip addresses, used by discovery=static")
    f.StringVar(&cfg.DNSNamesCSV, "dns-names", "", "comma-separated DNS names or SRV records (e.g. _topics._tcp.example.com)")
    f.IntVar(&cfg.DNSPort, "dns-port", dns.DefaultPort, "port used for A/AAAA lookups")
    f.DurationVar(&cfg.DiscRefresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
    f.StringVar(&cfg.FilePath, "file-path", "", "path or glob to a file with seeds (one per line or CSV)")
    f.StringVar(&cfg.FileEnv, "file-env", "", "ENV var name containing CSV seeds; overrides file when set")
    f.StringVar(&cfg.DataDir, "data", "", "data dir for raft state and durable stores")
    f.StringVar(&cfg.Store, "store", bootstrap.StoreMemory, "topic store: memory|bolt|leveldb")
    f.BoolVar(&cfg.Bootstrap, "bootstrap", false, "bootstrap a new single-voter cluster")
    f.StringVar(&cfg.NetworkConfig, "config", "", "network config file (limits, billing accounts)")
    f.StringVar(&cfg.ArchivePath, "archive", "", "sqlite archive path for message history (optional)")
    f.DurationVar(&cfg.RoundInterval, "round-interval", node.DefaultRoundInterval, "interval between consensus rounds; negative disables")
    f.BoolVar(&cfg.TLSEnable, "tls-enable", false, "enable mTLS for management transport")
    f.StringVar(&cfg.TLSCA, "tls-ca", "", "path to CA cert (PEM)")
    f.StringVar(&cfg.TLSCert, "tls-cert", "", "path to node certificate (PEM)")
    f.StringVar(&cfg.TLSKey, "tls-key", "", "path to node private key (PEM)")
    f.BoolVar(&cfg.TLSSkipVerify, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    f.StringVar(&cfg.TLSServerName, "tls-server-name", "", "expected server name (for TLS validation)")
    f.BoolVar(&cfg.Tracing, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    return cmd
}
