package node

import (
    "context"
    "encoding/json"
    "errors"

    "github.com/amirimatin/go-topics/pkg/consensus"
    "github.com/amirimatin/go-topics/pkg/internal/logutil"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/observability/metrics"
    "github.com/amirimatin/go-topics/pkg/observability/tracing"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
)

var errRoundFromClient = errors.New("node: round boundaries are issued by the leader")

// Handlers is the management API this node serves.
func (n *Node) Handlers() transport.Handlers {
    h := transport.Handlers{
        Status:    n.handleStatus,
        Join:      n.handleJoin,
        Leave:     n.handleLeave,
        Submit:    n.handleSubmit,
        Topic:     n.handleTopic,
        Subscribe: n.handleSubscribe,
    }
    if n.opts.Archive != nil { h.Messages = n.handleMessages }
    return h
}

func (n *Node) handleStatus(ctx context.Context) ([]byte, error) {
    st, err := n.Status(ctx)
    if err != nil { return nil, err }
    return json.Marshal(st)
}

// handleSubmit forwards client requests like Submit. A forwarded request
// that lands on a deposed leader fails instead of bouncing around.
func (n *Node) handleSubmit(ctx context.Context, req transport.SubmitRequest) (transport.SubmitResponse, error) {
    if req.Tx.Kind == machine.KindRound { return transport.SubmitResponse{}, errRoundFromClient }
    var (
        r   machine.Receipt
        err error
    )
    if req.Forwarded {
        r, err = n.apply(req.Tx)
    } else {
        r, err = n.Submit(ctx, req.Tx)
    }
    if err != nil { return transport.SubmitResponse{}, err }
    return transport.SubmitResponse{Receipt: r}, nil
}

func (n *Node) handleJoin(ctx context.Context, req transport.JoinRequest) (transport.JoinResponse, error) {
    _, end := tracing.StartSpan(ctx, "node.handleJoin", "id", req.ID)
    defer end()
    rc, ok := n.opts.Consensus.(consensus.Reconfigurer)
    if !ok { return transport.JoinResponse{}, transport.ErrUnsupported }
    if !n.opts.Consensus.IsLeader() {
        hint, _ := n.leaderMgmt()
        metrics.JoinRequests.WithLabelValues("rejected").Inc()
        logutil.Warnf(n.log, "join rejected (not leader): id=%s", req.ID)
        return transport.JoinResponse{Leader: hint, Error: consensus.ErrNotLeader.Error()}, nil
    }
    if req.ID == "" || req.RaftAddr == "" {
        metrics.JoinRequests.WithLabelValues("rejected").Inc()
        return transport.JoinResponse{Error: "node: join needs id and raft address"}, nil
    }
    if err := rc.AddVoter(req.ID, req.RaftAddr, n.opts.ApplyTimeout); err != nil {
        metrics.JoinRequests.WithLabelValues("failed").Inc()
        logutil.Errorf(n.log, "add voter failed: id=%s addr=%s err=%v", req.ID, req.RaftAddr, err)
        return transport.JoinResponse{Error: err.Error()}, nil
    }
    metrics.JoinRequests.WithLabelValues("accepted").Inc()
    logutil.Infof(n.log, "join accepted: id=%s addr=%s", req.ID, req.RaftAddr)
    return transport.JoinResponse{Accepted: true}, nil
}

func (n *Node) handleLeave(ctx context.Context, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    _, end := tracing.StartSpan(ctx, "node.handleLeave", "id", req.ID)
    defer end()
    rc, ok := n.opts.Consensus.(consensus.Reconfigurer)
    if !ok { return transport.LeaveResponse{}, transport.ErrUnsupported }
    if !n.opts.Consensus.IsLeader() { return transport.LeaveResponse{Error: consensus.ErrNotLeader.Error()}, nil }
    if err := rc.RemoveServer(req.ID, n.opts.ApplyTimeout); err != nil {
        return transport.LeaveResponse{Error: err.Error()}, nil
    }
    logutil.Infof(n.log, "leave accepted: id=%s", req.ID)
    return transport.LeaveResponse{Accepted: true}, nil
}

func (n *Node) handleTopic(_ context.Context, req transport.TopicRequest) (transport.TopicResponse, error) {
    st, ok, err := n.Topic(req.ID)
    if err != nil || !ok { return transport.TopicResponse{}, err }
    return transport.TopicResponse{Found: true, Topic: &st}, nil
}

func (n *Node) handleMessages(ctx context.Context, req transport.MessagesRequest) (transport.MessagesResponse, error) {
    msgs, err := n.opts.Archive.Messages(ctx, req.ID, req.From, req.Limit)
    if err != nil { return transport.MessagesResponse{}, err }
    return transport.MessagesResponse{Messages: msgs}, nil
}

func (n *Node) handleSubscribe(ctx context.Context, id topic.ID) (<-chan machine.Receipt, func(), error) {
    if !n.running.Load() { return nil, nil, ErrNotRunning }
    ch, cancel := n.Subscribe(ctx, id)
    return ch, cancel, nil
}
