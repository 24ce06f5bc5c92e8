// Package membership tracks which nodes are reachable and what they
// advertise. Nodes gossip their management and raft addresses so followers
// can find the leader's API, and their last applied consensus time so status
// can show replication lag.
package membership

import (
    "context"
    "time"
)

// Meta keys gossiped by every node.
const (
    MetaMgmt    = "mgmt"    // management API address
    MetaRaft    = "raft"    // raft transport address
    MetaApplied = "applied" // last applied consensus time, RFC3339Nano
)

type MemberInfo struct {
    ID   string            `json:"id"`
    Addr string            `json:"addr"`
    Meta map[string]string `json:"meta,omitempty"`
}

// Mgmt returns the advertised management address, or Addr when none is set.
func (m MemberInfo) Mgmt() string {
    if v := m.Meta[MetaMgmt]; v != "" { return v }
    return m.Addr
}

// Applied parses MetaApplied. ok is false when the member never reported.
func (m MemberInfo) Applied() (t time.Time, ok bool) {
    v := m.Meta[MetaApplied]
    if v == "" { return time.Time{}, false }
    t, err := time.Parse(time.RFC3339Nano, v)
    return t, err == nil
}

type EventType string

const (
    EventJoin   EventType = "join"
    EventUpdate EventType = "update"
    // EventLeave covers both graceful leave and failure; the gossip layer
    // does not tell them apart.
    EventLeave EventType = "leave"
)

type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the gossip layer.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}

// MetaUpdater is implemented by layers that can re-advertise local meta
// after start.
type MetaUpdater interface {
    SetMeta(key, value string) error
}

// HealthReporter exposes the gossip layer's awareness score. Lower is
// healthier; -1 means not running.
type HealthReporter interface {
    HealthScore() int
}
