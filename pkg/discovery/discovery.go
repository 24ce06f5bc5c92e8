// Package discovery supplies gossip seed addresses. Subpackages read them
// from flags (static), files or env (file) and DNS (dns).
package discovery

import (
    "sort"
    "strings"
)

type Discovery interface {
    Seeds() []string
}

// Func adapts a function to Discovery.
type Func func() []string

func (f Func) Seeds() []string { return f() }

// Split breaks a comma separated list, trimming blanks.
func Split(csv string) []string {
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}

// Normalize trims, drops blanks and duplicates, and sorts.
func Normalize(seeds []string) []string {
    set := make(map[string]struct{}, len(seeds))
    out := make([]string, 0, len(seeds))
    for _, s := range seeds {
        s = strings.TrimSpace(s)
        if s == "" { continue }
        if _, dup := set[s]; dup { continue }
        set[s] = struct{}{}
        out = append(out, s)
    }
    sort.Strings(out)
    return out
}

// Multi merges the seeds of several sources. Nil sources are skipped.
func Multi(ds ...Discovery) Discovery {
    return Func(func() []string {
        var all []string
        for _, d := range ds {
            if d != nil { all = append(all, d.Seeds()...) }
        }
        return Normalize(all)
    })
}
