// Package transport defines the management API a node serves to clients and
// peers: status, join/leave, transaction submission (forwarded to the
// leader), topic queries, archived messages and the live receipt stream.
// httpjson and grpc implement it over HTTP/JSON and gRPC with a JSON codec.
package transport

import (
    "context"
    "errors"

    "github.com/amirimatin/go-topics/pkg/archive"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/topic"
)

// ErrUnsupported is returned for endpoints the node did not wire.
var ErrUnsupported = errors.New("transport: not supported")

// StatusFunc returns a JSON-encoded status payload for /status.
type StatusFunc func(ctx context.Context) ([]byte, error)

// JoinRequest asks the leader to add ID at RaftAddr as a voter.
type JoinRequest struct {
    ID       string `json:"id"`
    RaftAddr string `json:"raftAddr"`
}

type JoinResponse struct {
    Accepted bool   `json:"accepted"`
    Leader   string `json:"leader,omitempty"`
    Error    string `json:"error,omitempty"`
}

type JoinFunc func(ctx context.Context, req JoinRequest) (JoinResponse, error)

// LeaveRequest asks the leader to remove ID from the voters.
type LeaveRequest struct {
    ID string `json:"id"`
}

type LeaveResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type LeaveFunc func(ctx context.Context, req LeaveRequest) (LeaveResponse, error)

// SubmitRequest carries a signed transaction. Timestamp and node id are
// assigned by the leader and ignored here. Forwarded marks a hop from a
// follower; the receiver must not forward it again.
type SubmitRequest struct {
    Tx        machine.Transaction `json:"tx"`
    Forwarded bool                `json:"forwarded,omitempty"`
}

// SubmitResponse carries the receipt. Error is set when the transaction
// never reached the state machine (no leader, halted node, timeout).
type SubmitResponse struct {
    Receipt machine.Receipt `json:"receipt"`
    Error   string          `json:"error,omitempty"`
}

type SubmitFunc func(ctx context.Context, req SubmitRequest) (SubmitResponse, error)

type TopicRequest struct {
    ID topic.ID `json:"id"`
}

// TopicResponse reports the committed state of a topic on the serving node.
type TopicResponse struct {
    Found bool         `json:"found"`
    Topic *topic.State `json:"topic,omitempty"`
}

type TopicFunc func(ctx context.Context, req TopicRequest) (TopicResponse, error)

// MessagesRequest pages through archived messages starting at From.
type MessagesRequest struct {
    ID    topic.ID `json:"id"`
    From  uint64   `json:"from"`
    Limit int      `json:"limit"`
}

type MessagesResponse struct {
    Messages []archive.Message `json:"messages"`
}

type MessagesFunc func(ctx context.Context, req MessagesRequest) (MessagesResponse, error)

// SubscribeFunc opens a receipt feed for one topic, or for every receipt
// when id is zero. cancel releases the subscription; the channel is closed
// afterwards or when the node stops.
type SubscribeFunc func(ctx context.Context, id topic.ID) (ch <-chan machine.Receipt, cancel func(), err error)

// Handlers bundles what a server exposes. Nil members are answered with
// ErrUnsupported.
type Handlers struct {
    Status    StatusFunc
    Join      JoinFunc
    Leave     LeaveFunc
    Submit    SubmitFunc
    Topic     TopicFunc
    Messages  MessagesFunc
    Subscribe SubscribeFunc
}

// RPCServer serves Handlers on a management address.
type RPCServer interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient calls another node's management API.
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    PostJoin(ctx context.Context, addr string, req JoinRequest) (JoinResponse, error)
    PostLeave(ctx context.Context, addr string, req LeaveRequest) (LeaveResponse, error)
    Submit(ctx context.Context, addr string, req SubmitRequest) (SubmitResponse, error)
    GetTopic(ctx context.Context, addr string, id topic.ID) (TopicResponse, error)
    GetMessages(ctx context.Context, addr string, req MessagesRequest) (MessagesResponse, error)
    // Stream delivers receipts for id (zero for all) until ctx is done or
    // the stream breaks.
    Stream(ctx context.Context, addr string, id topic.ID, onReceipt func(machine.Receipt)) error
}
