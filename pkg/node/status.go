package node

import (
    "time"

    "github.com/amirimatin/go-topics/pkg/membership"
)

// Status is the JSON document served on /status.
type Status struct {
    NodeID        string         `json:"nodeId"`
    Healthy       bool           `json:"healthy"`
    Halted        string         `json:"halted,omitempty"`
    Term          uint64         `json:"term"`
    IsLeader      bool           `json:"isLeader"`
    LeaderID      string         `json:"leaderId,omitempty"`
    LeaderAddr    string         `json:"leaderAddr,omitempty"`
    LastConsensus time.Time      `json:"lastConsensus"`
    Members       []MemberStatus `json:"members,omitempty"`
    Warnings      []string       `json:"warnings,omitempty"`
}

// MemberStatus adds replication lag, measured against this node's last
// applied consensus time, to a gossip member.
type MemberStatus struct {
    membership.MemberInfo
    Applied time.Time     `json:"applied,omitempty"`
    Lag     time.Duration `json:"lag,omitempty"`
}
