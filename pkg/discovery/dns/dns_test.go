package dns

import (
    "strings"
    "testing"
)

func TestSplitSRV(t *testing.T) {
    s, p, d, ok := splitSRV("_gossip._tcp.example.com")
    if !ok || s != "gossip" || p != "tcp" || d != "example.com" { t.Fatalf("split = %q %q %q %v", s, p, d, ok) }
    for _, bad := range []string{"bad.srv", "node1.example.com", "_x.example"} {
        if _, _, _, ok := splitSRV(bad); ok { t.Fatalf("%q parsed as srv", bad) }
    }
}

func TestHostPortPassesThrough(t *testing.T) {
    got := New(Options{Names: []string{"1.2.3.4:7946", "1.2.3.4:7946", " "}}).Seeds()
    if len(got) != 1 || got[0] != "1.2.3.4:7946" { t.Fatalf("seeds = %#v", got) }
}

func TestLocalhostGetsPort(t *testing.T) {
    got := New(Options{Names: []string{"localhost"}, Port: 12345}).Seeds()
    if len(got) == 0 { t.Fatalf("no seeds for localhost") }
    for _, s := range got {
        if !strings.HasSuffix(s, ":12345") { t.Fatalf("seed %q lacks port", s) }
    }
}
