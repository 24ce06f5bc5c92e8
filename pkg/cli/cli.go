// Package cli holds the topicctl cobra commands so services embedding a
// node can mount them under their own root.
package cli

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "io"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"
    "github.com/spf13/pflag"

    "github.com/amirimatin/go-topics/pkg/bootstrap"
    tlsx "github.com/amirimatin/go-topics/pkg/security/tlsconfig"
    "github.com/amirimatin/go-topics/pkg/transport"
)

// AddAll attaches every topicctl subcommand to root.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewJoinCmd())
    root.AddCommand(NewLeaveCmd())
    root.AddCommand(NewKeygenCmd())
    root.AddCommand(NewTopicCmd())
    root.AddCommand(NewSubmitCmd())
    root.AddCommand(NewWatchCmd())
    root.AddCommand(NewVerifyCmd())
    root.AddCommand(NewReplayCmd())
}

// NewTopicsCommand returns a "topics" parent holding every subcommand.
func NewTopicsCommand() *cobra.Command {
    parent := &cobra.Command{Use: "topics", Short: "consensus topic commands"}
    AddAll(parent)
    return parent
}

// remote is the flag set shared by commands that talk to a running node.
type remote struct {
    addr, proto                           string
    timeout                               time.Duration
    tlsEnable, tlsSkip                    bool
    tlsCA, tlsCert, tlsKey, tlsServerName string
}

func (r *remote) bind(fs *pflag.FlagSet) {
    fs.StringVar(&r.addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
    fs.StringVar(&r.proto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    fs.DurationVar(&r.timeout, "timeout", 5*time.Second, "request timeout")
    fs.BoolVar(&r.tlsEnable, "tls-enable", false, "enable mTLS for management transport")
    fs.StringVar(&r.tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    fs.StringVar(&r.tlsCert, "tls-cert", "", "path to client certificate (PEM)")
    fs.StringVar(&r.tlsKey, "tls-key", "", "path to client private key (PEM)")
    fs.BoolVar(&r.tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    fs.StringVar(&r.tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (r *remote) client() (transport.RPCClient, error) {
    var cfg *tls.Config
    if r.tlsEnable {
        o := tlsx.Options{Enable: true, CAFile: r.tlsCA, CertFile: r.tlsCert, KeyFile: r.tlsKey, InsecureSkipVerify: r.tlsSkip, ServerName: r.tlsServerName}
        var err error
        if cfg, err = o.Client(); err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    }
    return bootstrap.Client(r.proto, r.timeout, cfg), nil
}

func (r *remote) withTimeout() (context.Context, context.CancelFunc) {
    return context.WithTimeout(context.Background(), r.timeout)
}

func printJSON(w io.Writer, v any) error {
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
