package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

const namespace = "go_topics"

var (
    once sync.Once

    Transactions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "transactions_total",
        Help:      "Transactions processed by the state machine, by kind and outcome",
    }, []string{"kind", "outcome"})

    Messages = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "messages_total",
        Help:      "Messages accepted onto topics",
    })

    ActiveTopics = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Name:      "active_topics",
        Help:      "Topics tracked by the expiration index",
    })

    Reclaim = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "reclaim_actions_total",
        Help:      "Round boundary actions on expired topics",
    }, []string{"action"})

    ApplyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: namespace,
        Name:      "apply_seconds",
        Help:      "Time to apply one transaction to the state machine",
        Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
    })

    IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Name:      "is_leader",
        Help:      "1 if this node is the ordering leader, else 0",
    })

    LeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "leader_changes_total",
        Help:      "Total number of observed leader change events",
    })

    ClusterMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Name:      "members_total",
        Help:      "Current number of known gossip members",
    })

    JoinRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "join_requests_total",
        Help:      "Join requests handled by this node",
    }, []string{"result"})

    Forwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "forwarded_total",
        Help:      "Submissions forwarded to the leader",
    }, []string{"result"})

    ArchiveDropped = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "archive",
        Name:      "dropped_total",
        Help:      "Receipts dropped because the archive queue was full",
    })

    StreamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Name:      "stream_subscribers",
        Help:      "Open receipt stream subscriptions",
    })

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "grpc",
        Name:      "conn_dials_total",
        Help:      "Client connections dialed by the connection manager",
    })

    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "grpc",
        Name:      "conn_evictions_total",
        Help:      "Idle client connections closed by the connection manager",
    })

    Halts = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "halts_total",
        Help:      "Storage failures that stopped transaction processing",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(Transactions, Messages, ActiveTopics, Reclaim, ApplyLatency)
        prometheus.MustRegister(IsLeader, LeaderChanges, ClusterMembers, JoinRequests, Forwarded)
        prometheus.MustRegister(ArchiveDropped, StreamSubscribers, GRPCConnDials, GRPCConnEvictions, Halts)
    })
}
