// Package dns resolves seeds from SRV records ("_gossip._tcp.example.com")
// or host names combined with a fixed port. Entries that already carry a
// port pass through unchanged.
package dns

import (
    "context"
    "log"
    "net"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-topics/pkg/discovery"
    "github.com/amirimatin/go-topics/pkg/internal/logutil"
)

// DefaultPort is memberlist's default gossip port.
const DefaultPort = 7946

type Options struct {
    Names   []string
    Port    int
    Refresh time.Duration
    Timeout time.Duration
    // Resolver defaults to net.DefaultResolver.
    Resolver *net.Resolver
    Logger   *log.Logger
}

type source struct {
    opts  Options
    log   *log.Logger
    mu    sync.Mutex
    read  time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Timeout <= 0 { opts.Timeout = 2 * time.Second }
    if opts.Port == 0 { opts.Port = DefaultPort }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    return &source{opts: opts, log: logutil.Component(opts.Logger, "dns")}
}

func (s *source) Seeds() []string {
    s.mu.Lock(); defer s.mu.Unlock()
    if len(s.cache) > 0 && time.Since(s.read) < s.opts.Refresh { return append([]string(nil), s.cache...) }
    ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
    defer cancel()
    var all []string
    for _, name := range s.opts.Names {
        all = append(all, s.resolve(ctx, strings.TrimSpace(name))...)
    }
    s.cache, s.read = discovery.Normalize(all), time.Now()
    return append([]string(nil), s.cache...)
}

func (s *source) resolve(ctx context.Context, name string) []string {
    if name == "" { return nil }
    if _, _, err := net.SplitHostPort(name); err == nil { return []string{name} }
    if svc, proto, domain, ok := splitSRV(name); ok {
        _, recs, err := s.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
        if err == nil && len(recs) > 0 {
            out := make([]string, 0, len(recs))
            for _, r := range recs {
                out = append(out, net.JoinHostPort(strings.TrimSuffix(r.Target, "."), strconv.Itoa(int(r.Port))))
            }
            return out
        }
        logutil.Debugf(s.log, "srv %s: %v; trying host lookup", name, err)
    }
    ips, err := s.opts.Resolver.LookupHost(ctx, name)
    if err != nil {
        logutil.Warnf(s.log, "resolve %s: %v", name, err)
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips { out = append(out, net.JoinHostPort(ip, strconv.Itoa(s.opts.Port))) }
    return out
}

// splitSRV parses "_service._proto.domain".
func splitSRV(fqdn string) (service, proto, domain string, ok bool) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 || !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") { return "", "", "", false }
    return parts[0][1:], parts[1][1:], parts[2], true
}
