package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "io"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
)

type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    cm      *connManager
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    c := &Client{timeout: timeout}
    c.cm = newConnManager(30*time.Second, c.dial)
    return c
}

// UseTLS must be called before the first request.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

// Close releases cached connections.
func (c *Client) Close() { c.cm.close() }

func (c *Client) dial(_ context.Context, target string) (*grpc.ClientConn, error) {
    creds := insecure.NewCredentials()
    if c.tlsCfg != nil { creds = credentials.NewTLS(c.tlsCfg) }
    return grpc.NewClient(target,
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithTransportCredentials(creds),
    )
}

func (c *Client) invoke(ctx context.Context, addr, method string, in, out any) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.cm.get(cctx, addr)
    if err != nil { return err }
    err = cc.Invoke(cctx, "/"+managementService+"/"+method, in, out)
    rel()
    if status.Code(err) == codes.Unavailable { c.cm.drop(addr) }
    return err
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    out := new(statusBlob)
    if err := c.invoke(ctx, addr, "GetStatus", &empty{}, out); err != nil { return nil, err }
    return out.Data, nil
}

func (c *Client) PostJoin(ctx context.Context, addr string, req transport.JoinRequest) (transport.JoinResponse, error) {
    var resp transport.JoinResponse
    if err := c.invoke(ctx, addr, "Join", &req, &resp); err != nil { return resp, err }
    if resp.Error != "" { return resp, errors.New(resp.Error) }
    return resp, nil
}

func (c *Client) PostLeave(ctx context.Context, addr string, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    var resp transport.LeaveResponse
    if err := c.invoke(ctx, addr, "Leave", &req, &resp); err != nil { return resp, err }
    if resp.Error != "" { return resp, errors.New(resp.Error) }
    return resp, nil
}

func (c *Client) Submit(ctx context.Context, addr string, req transport.SubmitRequest) (transport.SubmitResponse, error) {
    var resp transport.SubmitResponse
    if err := c.invoke(ctx, addr, "Submit", &req, &resp); err != nil { return resp, err }
    if resp.Error != "" { return resp, errors.New(resp.Error) }
    return resp, nil
}

func (c *Client) GetTopic(ctx context.Context, addr string, id topic.ID) (transport.TopicResponse, error) {
    var resp transport.TopicResponse
    err := c.invoke(ctx, addr, "GetTopic", &transport.TopicRequest{ID: id}, &resp)
    return resp, err
}

func (c *Client) GetMessages(ctx context.Context, addr string, req transport.MessagesRequest) (transport.MessagesResponse, error) {
    var resp transport.MessagesResponse
    err := c.invoke(ctx, addr, "GetMessages", &req, &resp)
    return resp, err
}

// Stream opens the receipts server-stream. It returns nil when the server
// ends the stream and ctx.Err() once ctx is done.
func (c *Client) Stream(ctx context.Context, addr string, id topic.ID, onReceipt func(machine.Receipt)) error {
    cc, rel, err := c.cm.get(ctx, addr)
    if err != nil { return err }
    defer rel()
    cs, err := cc.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, "/"+receiptsService+"/Subscribe")
    if err != nil { return err }
    if err := cs.SendMsg(&subscribeRequest{TopicID: id}); err != nil { return err }
    if err := cs.CloseSend(); err != nil { return err }
    for {
        var r machine.Receipt
        if err := cs.RecvMsg(&r); err != nil {
            if errors.Is(err, io.EOF) { return nil }
            if ctx.Err() != nil { return ctx.Err() }
            return err
        }
        if onReceipt != nil { onReceipt(r) }
    }
}

var _ transport.RPCClient = (*Client)(nil)
