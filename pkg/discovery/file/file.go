// Package file reads seeds from an environment variable or from files. A
// file lists one or more comma separated seeds per line; '#' starts a
// comment line. Path may be a glob.
package file

import (
    "bufio"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-topics/pkg/discovery"
)

type Options struct {
    Path string
    // Env names a variable that wins over Path when set.
    Env string
    // Refresh is how long a read stays cached. Default 5s.
    Refresh time.Duration
}

type source struct {
    opts  Options
    mu    sync.Mutex
    read  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &source{opts: opts}
}

func (s *source) Seeds() []string {
    if s.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(s.opts.Env)); v != "" { return discovery.Normalize(discovery.Split(v)) }
    }
    if s.opts.Path == "" { return nil }
    s.mu.Lock(); defer s.mu.Unlock()
    now := time.Now()
    if fi, err := os.Stat(s.opts.Path); err == nil {
        if fi.ModTime().After(s.mtime) || now.Sub(s.read) >= s.opts.Refresh {
            if seeds, err := load(s.opts.Path); err == nil { s.cache = seeds }
            s.read, s.mtime = now, fi.ModTime()
        }
        return append([]string(nil), s.cache...)
    }
    if now.Sub(s.read) < s.opts.Refresh && s.cache != nil { return append([]string(nil), s.cache...) }
    matches, _ := filepath.Glob(s.opts.Path)
    var all []string
    for _, m := range matches {
        seeds, err := load(m)
        if err != nil { continue }
        all = append(all, seeds...)
    }
    if len(matches) > 0 {
        s.cache = discovery.Normalize(all)
        s.read = now
    }
    return append([]string(nil), s.cache...)
}

func load(path string) ([]string, error) {
    f, err := os.Open(path)
    if err != nil { return nil, err }
    defer f.Close()
    var seeds []string
    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        seeds = append(seeds, discovery.Split(line)...)
    }
    if err := sc.Err(); err != nil { return nil, err }
    return discovery.Normalize(seeds), nil
}
